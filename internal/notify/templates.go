// Soundprint - Music Listening Tracking and Statistics
// Copyright 2026 Soundprint contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundprint/soundprint

package notify

import (
	"fmt"
	"strings"
	"text/template"
)

// eventTemplate holds the rendered parts of one notification type.
// exceptions routes the message to the exceptions mailbox instead of the
// observability one.
type eventTemplate struct {
	subject    string
	body       *template.Template
	exceptions bool
}

func (t *eventTemplate) render(data map[string]interface{}) (string, string, error) {
	var body strings.Builder
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to render notification body: %w", err)
	}
	return t.subject, body.String(), nil
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

var eventTemplates = map[EventType]*eventTemplate{
	EventUserStatsUpdate: {
		subject: "New user stats are being written into the DB - Soundprint",
		body: mustTemplate("user_stats_update",
			`A new batch of user statistics is being written into the database.

Stat type: {{.StatType}}
Time: {{.Now}}
`),
	},
	EventDumpImportFailure: {
		subject:    "Cluster dump import failures - Soundprint",
		exceptions: true,
		body: mustTemplate("dump_import_failure",
			`The analytics cluster reported errors while importing a listen dump.

Import completed at: {{.Time}}

Errors:
{{range .Errors}}  - {{.}}
{{end}}`),
	},
	EventDataframesCreated: {
		subject: "Dataframes have been created and uploaded - Soundprint",
		body: mustTemplate("dataframes_created",
			`Training dataframes were created and uploaded by the analytics cluster.

Time to upload: {{.UploadTime}}
Total time: {{.TotalTime}}
`),
	},
	EventModelCreated: {
		subject: "Recommendation model created and uploaded - Soundprint",
		body: mustTemplate("model_created",
			`A recommendation model finished training and was uploaded.

Model ID: {{.ModelID}}
Time to upload: {{.UploadTime}}
Total time: {{.TotalTime}}
`),
	},
	EventCandidateSetsCreated: {
		subject: "Candidate sets created and uploaded - Soundprint",
		body: mustTemplate("candidate_sets_created",
			`Recommendation candidate sets were created and uploaded.

Total time: {{.TotalTime}}
`),
	},
	EventRecommendationsGenerated: {
		subject: "Recommendations have been generated - Soundprint",
		body: mustTemplate("recommendations_generated",
			`A new batch of recording recommendations is being written into the
database.

Time: {{.Now}}
`),
	},
	EventSimilarUsersComputed: {
		subject: "Similar user data has been calculated - Soundprint",
		body: mustTemplate("similar_users_computed",
			`User similarity data was calculated and imported.

Users imported: {{.UserCount}}
`),
	},
}
