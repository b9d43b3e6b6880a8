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

// Package orchestrator runs the triage pipeline across accounts. Accounts are
// fully isolated: each gets its own processor, session and rule set, and one
// account's failure never prevents the others from running.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jearle/mailsift/internal/artifact"
	"github.com/jearle/mailsift/internal/config"
	"github.com/jearle/mailsift/internal/credentials"
	"github.com/jearle/mailsift/internal/models"
	"github.com/jearle/mailsift/internal/processor"
	"github.com/jearle/mailsift/internal/transport"
)

// Options select which accounts to run and how.
type Options struct {
	// Accounts are the explicitly requested account names. Empty means the
	// first configured account unless All is set.
	Accounts []string
	// All selects every configured account except example placeholders.
	All bool

	DryRun      bool
	Force       bool
	SkipConfirm bool
	// MaxMessages caps the total messages handled across all accounts;
	// 0 means unlimited.
	MaxMessages int
}

// AccountStatus is the per-account entry in a run result.
type AccountStatus struct {
	OK      bool
	Err     string
	Summary *models.AccountSummary
}

// Result aggregates one orchestration run.
type Result struct {
	RunID     string
	Attempted int
	Succeeded int
	Failed    int
	Accounts  map[string]AccountStatus
	Elapsed   time.Duration
}

// Deps are the shared services injected into every account processor. Seen,
// Audit and Events may be nil when the backing infrastructure is not
// configured.
type Deps struct {
	Dialer     transport.Dialer
	Classifier processor.Classifier
	Renderer   processor.Renderer
	Seen       processor.SeenCache
	Audit      processor.AuditStore
	Events     processor.EventSink
	Confirmer  processor.Confirmer
}

// Orchestrator fans one run out over the selected accounts, sequentially.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps
}

// New creates an orchestrator over the given configuration.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Run resolves the account selection and processes each account in turn.
// Unknown account names fail before any processing starts; per-account
// failures afterwards are recorded in the result, never returned as errors.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	selected, err := o.resolveAccounts(opts)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:    uuid.New().String(),
		Accounts: make(map[string]AccountStatus, len(selected)),
	}
	start := time.Now()

	slog.Info("orchestration run starting",
		"run_id", res.RunID,
		"accounts", len(selected),
		"dry_run", opts.DryRun,
		"force", opts.Force,
	)

	remaining := opts.MaxMessages
	for _, acct := range selected {
		res.Attempted++

		if opts.MaxMessages > 0 && remaining <= 0 {
			slog.Warn("global message cap exhausted, skipping remaining accounts",
				"run_id", res.RunID,
				"account", acct.Name,
			)
			res.Accounts[acct.Name] = AccountStatus{
				OK:      false,
				Err:     "skipped: global message cap exhausted",
				Summary: &models.AccountSummary{Account: acct.Name},
			}
			res.Failed++
			continue
		}

		summary, err := o.runAccount(ctx, acct, opts, res.RunID, remaining)
		if opts.MaxMessages > 0 && summary != nil {
			remaining -= len(summary.Messages)
		}

		if err != nil {
			slog.Error("account processing failed",
				"run_id", res.RunID,
				"account", acct.Name,
				"error", err,
			)
			res.Accounts[acct.Name] = AccountStatus{OK: false, Err: err.Error(), Summary: summary}
			res.Failed++
			continue
		}

		res.Accounts[acct.Name] = AccountStatus{OK: true, Summary: summary}
		res.Succeeded++
	}

	res.Elapsed = time.Since(start)
	slog.Info("orchestration run finished",
		"run_id", res.RunID,
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"elapsed", res.Elapsed.Round(time.Millisecond).String(),
	)
	return res, nil
}

// runAccount builds and runs one account processor. Construction is done here
// so a panic-free failure in one account's wiring cannot leak into the next.
func (o *Orchestrator) runAccount(ctx context.Context, acct config.AccountConfig, opts Options, runID string, remaining int) (*models.AccountSummary, error) {
	creds, err := buildProvider(ctx, acct)
	if err != nil {
		return &models.AccountSummary{Account: acct.Name}, err
	}

	budget := remaining
	if opts.MaxMessages == 0 {
		budget = 0
	}

	p := processor.New(processor.Config{
		Account:     acct,
		RunID:       runID,
		Dialer:      o.deps.Dialer,
		Creds:       creds,
		Classifier:  o.deps.Classifier,
		Renderer:    o.deps.Renderer,
		Notes:       artifact.NewWriter(acct.NotesDir, opts.DryRun),
		Seen:        o.deps.Seen,
		Audit:       o.deps.Audit,
		Events:      o.deps.Events,
		Confirmer:   o.deps.Confirmer,
		DryRun:      opts.DryRun,
		Force:       opts.Force,
		SkipConfirm: opts.SkipConfirm,
		MaxMessages: budget,
	})
	return p.Run(ctx)
}

// buildProvider selects the credential provider for an account.
func buildProvider(ctx context.Context, acct config.AccountConfig) (credentials.Provider, error) {
	switch acct.Auth.Kind {
	case "password":
		return credentials.NewStatic(acct.Auth.Username, acct.Auth.Password), nil
	case "oauth2":
		return credentials.NewOAuth2(ctx, acct.Auth.Username, clientcredentials.Config{
			ClientID:     acct.Auth.ClientID,
			ClientSecret: acct.Auth.ClientSecret,
			TokenURL:     acct.Auth.TokenURL,
			Scopes:       acct.Auth.Scopes,
		}), nil
	}
	return nil, fmt.Errorf("unsupported auth kind %q", acct.Auth.Kind)
}

// resolveAccounts maps the selection options onto configured accounts.
// Requested names must all exist: a typo fails the whole run before any
// mailbox is touched.
func (o *Orchestrator) resolveAccounts(opts Options) ([]config.AccountConfig, error) {
	byName := make(map[string]config.AccountConfig, len(o.cfg.Accounts))
	for _, a := range o.cfg.Accounts {
		byName[a.Name] = a
	}

	if opts.All {
		var out []config.AccountConfig
		for _, a := range o.cfg.Accounts {
			if strings.HasPrefix(a.Name, config.ExamplePrefix) {
				slog.Debug("skipping example account", "account", a.Name)
				continue
			}
			out = append(out, a)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no non-example accounts configured")
		}
		return out, nil
	}

	if len(opts.Accounts) == 0 {
		// Default: the first configured account.
		return o.cfg.Accounts[:1], nil
	}

	var out []config.AccountConfig
	var missing []string
	for _, name := range opts.Accounts {
		a, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, a)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown accounts: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
