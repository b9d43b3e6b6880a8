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

// Package normalize converts message bodies into the plain-text form fed to
// the classifier and rendered into notes.
package normalize

import (
	"log/slog"
	"strings"

	"github.com/k3a/html2text"
)

// MaxLength is the hard cap on normalized text, in characters.
const MaxLength = 20000

// Normalize converts an HTML body to plain text, falling back to the plain
// body when the HTML body is empty or the conversion produces nothing. The
// returned flag reports whether the fallback was used. The result is always
// truncated to MaxLength characters; truncation never changes the flag.
func Normalize(htmlBody, plainBody string) (string, bool) {
	if strings.TrimSpace(htmlBody) == "" {
		return truncate(plainBody), true
	}

	converted := html2text.HTML2Text(htmlBody)
	if strings.TrimSpace(converted) == "" {
		slog.Debug("html conversion produced no text, falling back to plain body")
		return truncate(plainBody), true
	}

	return truncate(converted), false
}

func truncate(s string) string {
	if len(s) <= MaxLength {
		return s
	}
	runes := []rune(s)
	if len(runes) <= MaxLength {
		return s
	}
	slog.Info("truncating normalized body",
		"chars", len(runes),
		"max", MaxLength,
	)
	return string(runes[:MaxLength])
}
