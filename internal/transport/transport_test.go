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

package transport

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
)

// TestValidFlagName verifies the keyword constraint: alphanumerics,
// underscore and period only.
func TestValidFlagName(t *testing.T) {
	valid := []string{"MailSift.Processed", "Seen_2026", "a", "A.B_C9"}
	for _, name := range valid {
		if !ValidFlagName(name) {
			t.Errorf("ValidFlagName(%q) = false, want true", name)
		}
	}

	invalid := []string{"", "Mail-Sift", "flag[1]", "with space", "tag{x}", "\\Seen"}
	for _, name := range invalid {
		if ValidFlagName(name) {
			t.Errorf("ValidFlagName(%q) = true, want false", name)
		}
	}
}

// TestCriteriaFromQuery verifies search criteria construction for the
// idempotency query.
func TestCriteriaFromQuery(t *testing.T) {
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c := criteriaFromQuery(Query{Since: since, WithoutFlag: "MailSift.Processed"})

	if !c.Since.Equal(since) {
		t.Errorf("Since = %v, want %v", c.Since, since)
	}
	if len(c.NotFlag) != 1 || c.NotFlag[0] != imap.Flag("MailSift.Processed") {
		t.Errorf("NotFlag = %v, want [MailSift.Processed]", c.NotFlag)
	}

	// Force-reprocess builds the query without the flag restriction.
	c = criteriaFromQuery(Query{Since: since})
	if len(c.NotFlag) != 0 {
		t.Errorf("NotFlag = %v, want empty for force query", c.NotFlag)
	}
}

// TestParseBody_Multipart verifies plain and HTML part extraction.
func TestParseBody_Multipart(t *testing.T) {
	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: user@example.com",
		"Subject: test",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="BOUNDARY"`,
		"",
		"--BOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body here",
		"--BOUNDARY",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html body here</p>",
		"--BOUNDARY--",
		"",
	}, "\r\n")

	plain, html := parseBody([]byte(raw))
	if !strings.Contains(plain, "plain body here") {
		t.Errorf("plain = %q, want plain body here", plain)
	}
	if !strings.Contains(html, "html body here") {
		t.Errorf("html = %q, want html body here", html)
	}
}

// TestParseBody_PlainOnly verifies a single-part message.
func TestParseBody_PlainOnly(t *testing.T) {
	raw := strings.Join([]string{
		"From: sender@example.com",
		"Subject: test",
		"Content-Type: text/plain",
		"",
		"just plain text",
		"",
	}, "\r\n")

	plain, html := parseBody([]byte(raw))
	if !strings.Contains(plain, "just plain text") {
		t.Errorf("plain = %q", plain)
	}
	if html != "" {
		t.Errorf("html = %q, want empty", html)
	}
}

// TestParseID verifies identifier round-tripping.
func TestParseID(t *testing.T) {
	uid, err := parseID("42")
	if err != nil {
		t.Fatalf("parseID failed: %v", err)
	}
	if uid != imap.UID(42) {
		t.Errorf("uid = %d, want 42", uid)
	}

	if _, err := parseID("not-a-uid"); err == nil {
		t.Error("expected error for malformed id")
	}
}
