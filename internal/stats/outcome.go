// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package stats

// OutcomeKind classifies how a statistics message was handled.
type OutcomeKind int

const (
	// OutcomePersisted means the message was validated and its effect
	// applied (a write, a notification, or both).
	OutcomePersisted OutcomeKind = iota
	// OutcomeRejected means the message failed schema validation or could
	// not be decoded. Rejected messages are still acknowledged.
	OutcomeRejected
	// OutcomeSkippedUnknownUser means the message referenced a user this
	// instance does not know. The batch cluster may compute stats for
	// users no longer present locally, so this is routine.
	OutcomeSkippedUnknownUser
)

// Outcome is the auditable result of handling one message.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Persisted marks a successfully applied message.
func Persisted() Outcome {
	return Outcome{Kind: OutcomePersisted}
}

// Rejected marks a message that failed validation with the reason.
func Rejected(reason string) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

// SkippedUnknownUser marks a message dropped because its user is unknown.
func SkippedUnknownUser() Outcome {
	return Outcome{Kind: OutcomeSkippedUnknownUser}
}

// Label returns the metrics label for the outcome.
func (o Outcome) Label() string {
	switch o.Kind {
	case OutcomeRejected:
		return "rejected"
	case OutcomeSkippedUnknownUser:
		return "skipped_unknown_user"
	default:
		return "persisted"
	}
}
