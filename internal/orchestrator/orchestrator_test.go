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

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jearle/mailsift/internal/classify"
	"github.com/jearle/mailsift/internal/config"
	"github.com/jearle/mailsift/internal/credentials"
	"github.com/jearle/mailsift/internal/models"
	"github.com/jearle/mailsift/internal/processor"
	"github.com/jearle/mailsift/internal/transport"
)

// emptySession is a mailbox with no candidate messages.
type emptySession struct{}

func (emptySession) CountCandidates(context.Context, transport.Query) (int, error) {
	return 0, nil
}
func (emptySession) FetchCandidateIDs(context.Context, transport.Query) ([]string, error) {
	return nil, nil
}
func (emptySession) FetchContent(context.Context, string) (*transport.Content, error) {
	return nil, fmt.Errorf("no messages")
}
func (emptySession) SetFlag(context.Context, string, string) error { return nil }
func (emptySession) Close() error                                  { return nil }

// hostDialer succeeds or fails per host and records connection attempts.
type hostDialer struct {
	mu       sync.Mutex
	failHost string
	attempts []string
}

func (d *hostDialer) Connect(_ context.Context, ep transport.Endpoint, _ credentials.Credential) (transport.Session, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, ep.Host)
	d.mu.Unlock()
	if ep.Host == d.failHost {
		return nil, fmt.Errorf("connection refused")
	}
	return emptySession{}, nil
}

func (d *hostDialer) attempted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.attempts...)
}

type noopClassifier struct{}

func (noopClassifier) Score(context.Context, classify.Request) classify.Result {
	return classify.Result{ImportanceScore: 0, SpamScore: 0}
}

type noopRenderer struct{}

func (noopRenderer) Render(*models.MessageContext) string { return "" }

func account(name, host string) config.AccountConfig {
	return config.AccountConfig{
		Name: name,
		IMAP: config.IMAPSettings{Host: host, Port: 993, Mailbox: "INBOX"},
		Auth: config.AuthSettings{Kind: "password", Username: "u@" + host, Password: "p"},
		Classifier: config.ClassifierSettings{
			Endpoint: "https://scorer.example.com/v1/score",
			Model:    "triage-small",
		},
		Thresholds:    config.Thresholds{Importance: 7, Spam: 7},
		Cost:          config.CostSettings{PerMessage: 0.002, ConfirmThreshold: 100},
		NotesDir:      "notes",
		ProcessedFlag: "MailSift.Processed",
		LookbackDays:  7,
	}
}

func newTestOrchestrator(dialer transport.Dialer, accounts ...config.AccountConfig) *Orchestrator {
	return New(
		&config.Config{Accounts: accounts},
		Deps{
			Dialer:     dialer,
			Classifier: noopClassifier{},
			Renderer:   noopRenderer{},
			Confirmer:  processor.ConfirmerFunc(func(string) bool { return true }),
		},
	)
}

// TestOrchestrator_UnknownAccountFailsFast verifies that a typo in an account
// name stops the run before any mailbox is contacted.
func TestOrchestrator_UnknownAccountFailsFast(t *testing.T) {
	dialer := &hostDialer{}
	o := newTestOrchestrator(dialer, account("personal", "imap.a.example.com"))

	_, err := o.Run(context.Background(), Options{Accounts: []string{"personal", "nope"}})
	if err == nil {
		t.Fatal("expected error for unknown account name")
	}
	if len(dialer.attempted()) != 0 {
		t.Errorf("mailboxes contacted despite unknown account: %v", dialer.attempted())
	}
}

// TestOrchestrator_AccountIsolation verifies that one account's connection
// failure does not prevent the other account from running.
func TestOrchestrator_AccountIsolation(t *testing.T) {
	dialer := &hostDialer{failHost: "imap.a.example.com"}
	o := newTestOrchestrator(dialer,
		account("personal", "imap.a.example.com"),
		account("work", "imap.b.example.com"),
	)

	res, err := o.Run(context.Background(), Options{All: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Attempted != 2 || res.Succeeded != 1 || res.Failed != 1 {
		t.Errorf("result = attempted %d / succeeded %d / failed %d, want 2/1/1",
			res.Attempted, res.Succeeded, res.Failed)
	}
	if st := res.Accounts["personal"]; st.OK || st.Err == "" {
		t.Errorf("personal status = %+v, want failure with error", st)
	}
	if st := res.Accounts["work"]; !st.OK {
		t.Errorf("work status = %+v, want success", st)
	}
	if len(dialer.attempted()) != 2 {
		t.Errorf("connection attempts = %v, want both hosts", dialer.attempted())
	}
}

// TestOrchestrator_AllSkipsExampleAccounts verifies that placeholder accounts
// are excluded from --all runs.
func TestOrchestrator_AllSkipsExampleAccounts(t *testing.T) {
	dialer := &hostDialer{}
	o := newTestOrchestrator(dialer,
		account("example-gmail", "imap.gmail.example.com"),
		account("personal", "imap.a.example.com"),
	)

	res, err := o.Run(context.Background(), Options{All: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Attempted != 1 {
		t.Errorf("attempted = %d, want 1 (example excluded)", res.Attempted)
	}
	if _, ok := res.Accounts["example-gmail"]; ok {
		t.Error("example account was processed")
	}
}

// TestOrchestrator_DefaultsToFirstAccount verifies the no-selection default.
func TestOrchestrator_DefaultsToFirstAccount(t *testing.T) {
	dialer := &hostDialer{}
	o := newTestOrchestrator(dialer,
		account("personal", "imap.a.example.com"),
		account("work", "imap.b.example.com"),
	)

	res, err := o.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Attempted != 1 {
		t.Fatalf("attempted = %d, want 1", res.Attempted)
	}
	if _, ok := res.Accounts["personal"]; !ok {
		t.Error("first configured account was not the one processed")
	}
}

// TestOrchestrator_RunIDAssigned verifies every run gets a distinct identifier.
func TestOrchestrator_RunIDAssigned(t *testing.T) {
	dialer := &hostDialer{}
	o := newTestOrchestrator(dialer, account("personal", "imap.a.example.com"))

	first, err := o.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := o.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Errorf("run IDs = %q / %q, want distinct non-empty values", first.RunID, second.RunID)
	}
}
