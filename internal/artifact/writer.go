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

package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jearle/mailsift/internal/models"
)

// Writer persists rendered notes into an account's notes directory. In dry
//-run mode it logs the intended write instead of touching the filesystem.
type Writer struct {
	dir    string
	dryRun bool
}

// NewWriter creates a note writer for one account.
func NewWriter(dir string, dryRun bool) *Writer {
	return &Writer{dir: dir, dryRun: dryRun}
}

// Write stores the rendered note and returns its path.
func (w *Writer) Write(msg *models.MessageContext, text string) (string, error) {
	name := noteFilename(msg)
	path := filepath.Join(w.dir, name)

	if w.dryRun {
		slog.Info("dry run: would write note",
			"path", path,
			"message_id", msg.ID,
			"bytes", len(text),
		)
		return path, nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create notes dir %s: %w", w.dir, err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write note %s: %w", path, err)
	}

	slog.Debug("note written", "path", path, "message_id", msg.ID)
	return path, nil
}

// noteFilename builds a stable, filesystem-safe name from the message date,
// subject and identifier.
func noteFilename(msg *models.MessageContext) string {
	subject := sanitize(msg.Subject)
	if subject == "" {
		subject = "no-subject"
	}
	date := "undated"
	if !msg.Date.IsZero() {
		date = msg.Date.Format("2006-01-02")
	}
	return fmt.Sprintf("%s-%s-%s.md", date, subject, sanitize(msg.ID))
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 60 {
		out = out[:60]
	}
	return out
}
