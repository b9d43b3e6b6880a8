// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package artifact renders and writes per-message note documents.
package artifact

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/jearle/mailsift/internal/models"
)

const noteTemplate = `# {{.Subject}}

- From: {{.Sender}}
- Date: {{.Date.Format "2006-01-02 15:04"}}
- Message: {{.ID}}
- Outcome: {{.Outcome}}
{{- if .Scored}}
- Importance: {{.ImportanceScore}}/10 (final {{.FinalScore}})
- Spam: {{.SpamScore}}/10
- Verdict: {{if .Spam}}spam{{else if .Important}}important{{else}}routine{{end}}
{{- else}}
- Scores: unscored
{{- end}}
{{- with .Labels}}
- Labels: {{join .}}
{{- end}}

{{.NormalizedBody}}
`

// Renderer renders message contexts into note documents. It is stateless and
// shared across accounts.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer creates the note renderer.
func NewRenderer() *Renderer {
	tmpl := template.Must(template.New("note").Funcs(template.FuncMap{
		"join": func(labels []string) string { return strings.Join(labels, ", ") },
	}).Parse(noteTemplate))
	return &Renderer{tmpl: tmpl}
}

// Render produces the note text for a finished message. Rendering failure is
// recoverable: a minimal fallback document is produced and the failure is
// logged.
func (r *Renderer) Render(msg *models.MessageContext) string {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, msg); err != nil {
		slog.Error("note rendering failed, using minimal fallback",
			"message_id", msg.ID,
			"error", err,
		)
		return fmt.Sprintf("# %s\n\nFrom: %s\nOutcome: %s\n", msg.Subject, msg.Sender, msg.Outcome())
	}
	return buf.String()
}
