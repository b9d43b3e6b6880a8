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

package normalize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// TestNormalize_FallbackOnEmptyHTML verifies that an empty or whitespace HTML
// body always falls back to the plain body, on every call.
func TestNormalize_FallbackOnEmptyHTML(t *testing.T) {
	for i := 0; i < 3; i++ {
		text, usedFallback := Normalize("", "plain text")
		if text != "plain text" {
			t.Errorf("call %d: text = %q, want plain text", i, text)
		}
		if !usedFallback {
			t.Errorf("call %d: expected fallback flag", i)
		}
	}

	text, usedFallback := Normalize("   \n\t ", "plain text")
	if text != "plain text" || !usedFallback {
		t.Errorf("whitespace html: got (%q, %v), want (plain text, true)", text, usedFallback)
	}
}

// TestNormalize_ConvertsHTML verifies a successful structural conversion.
func TestNormalize_ConvertsHTML(t *testing.T) {
	text, usedFallback := Normalize("<html><body><p>Hello <b>world</b></p></body></html>", "ignored")
	if usedFallback {
		t.Error("conversion succeeded, fallback flag must be false")
	}
	if !strings.Contains(text, "Hello") || !strings.Contains(text, "world") {
		t.Errorf("converted text = %q, want Hello world content", text)
	}
	if strings.Contains(text, "<p>") {
		t.Errorf("converted text still contains markup: %q", text)
	}
}

// TestNormalize_FallbackOnEmptyConversion verifies that markup which converts
// to nothing falls back to the plain body.
func TestNormalize_FallbackOnEmptyConversion(t *testing.T) {
	text, usedFallback := Normalize("<html><head><style>body{}</style></head></html>", "the plain version")
	if !usedFallback {
		t.Error("empty conversion result should use fallback")
	}
	if text != "the plain version" {
		t.Errorf("text = %q, want the plain version", text)
	}
}

// TestNormalize_TruncationInvariant verifies the hard cap and that truncation
// does not affect the fallback flag.
func TestNormalize_TruncationInvariant(t *testing.T) {
	bigPlain := strings.Repeat("a", MaxLength+5000)
	text, usedFallback := Normalize("", bigPlain)
	if utf8.RuneCountInString(text) > MaxLength {
		t.Errorf("text length %d exceeds max %d", utf8.RuneCountInString(text), MaxLength)
	}
	if !usedFallback {
		t.Error("fallback flag must survive truncation")
	}

	bigHTML := "<p>" + strings.Repeat("word ", MaxLength) + "</p>"
	text, usedFallback = Normalize(bigHTML, "plain")
	if utf8.RuneCountInString(text) > MaxLength {
		t.Errorf("converted text length %d exceeds max %d", utf8.RuneCountInString(text), MaxLength)
	}
	if usedFallback {
		t.Error("successful conversion must not set fallback flag, truncated or not")
	}
}

// TestNormalize_TruncationMultibyte verifies rune-safe truncation.
func TestNormalize_TruncationMultibyte(t *testing.T) {
	big := strings.Repeat("ü", MaxLength+100)
	text, _ := Normalize("", big)
	if !utf8.ValidString(text) {
		t.Error("truncation split a multibyte rune")
	}
	if utf8.RuneCountInString(text) != MaxLength {
		t.Errorf("rune count = %d, want %d", utf8.RuneCountInString(text), MaxLength)
	}
}
