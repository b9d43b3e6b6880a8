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

// Package transport defines the mailbox capability consumed by the account
// processor, and implements it over IMAP. Message identifiers are opaque
// strings, stable within one mailbox session.
package transport

import (
	"context"
	"regexp"
	"time"

	"github.com/jearle/mailsift/internal/credentials"
)

// Endpoint locates one mailbox.
type Endpoint struct {
	Host    string
	Port    int
	TLS     bool // implicit TLS; false means STARTTLS
	Mailbox string
}

// Query selects candidate messages. The zero value selects everything.
type Query struct {
	Since       time.Time // only messages received at or after this instant
	WithoutFlag string    // keyword that must be absent ("" = no restriction)
}

// Content is the fetched message content. At least one body form is present.
type Content struct {
	Sender    string
	Subject   string
	Date      time.Time
	HTMLBody  string
	PlainBody string
}

// Session is an authenticated connection to one mailbox. Sessions are owned
// by a single account processor and are not safe for concurrent use.
type Session interface {
	// CountCandidates counts matching messages without fetching content.
	CountCandidates(ctx context.Context, q Query) (int, error)
	// FetchCandidateIDs returns matching message identifiers in mailbox order.
	FetchCandidateIDs(ctx context.Context, q Query) ([]string, error)
	// FetchContent retrieves sender, subject, date and bodies for one message.
	FetchContent(ctx context.Context, id string) (*Content, error)
	// SetFlag adds a keyword flag to one message.
	SetFlag(ctx context.Context, id, flag string) error
	// Close releases the session. Safe to call more than once.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Connect(ctx context.Context, ep Endpoint, cred credentials.Credential) (Session, error)
}

// flagNameRe enforces the transport protocol's keyword constraint: letters,
// digits, underscore and period only. Hyphens and brackets are rejected.
var flagNameRe = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// ValidFlagName reports whether name is usable as a keyword flag.
func ValidFlagName(name string) bool {
	return flagNameRe.MatchString(name)
}
