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

// Package processor runs the per-account triage pipeline. Each processor owns
// one transport session and one rule set, walks every candidate message
// through the ordered gate sequence (deny rules → normalization →
// classification → decision → allow rules → note → flag), and isolates
// per-message failures so one bad message never stops the loop.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jearle/mailsift/internal/audit"
	"github.com/jearle/mailsift/internal/classify"
	"github.com/jearle/mailsift/internal/config"
	"github.com/jearle/mailsift/internal/credentials"
	"github.com/jearle/mailsift/internal/decision"
	"github.com/jearle/mailsift/internal/events"
	"github.com/jearle/mailsift/internal/models"
	"github.com/jearle/mailsift/internal/normalize"
	"github.com/jearle/mailsift/internal/rules"
	"github.com/jearle/mailsift/internal/transport"
)

// state tracks the processor lifecycle:
// created → setUp → running → tornDown, with failed reachable from setUp and
// running. Teardown always runs.
type state int

const (
	stateCreated state = iota
	stateSetUp
	stateRunning
	stateFailed
	stateTornDown
)

// Confirmer asks the caller to approve an estimated processing cost before
// any content is fetched. Returning false aborts the account run cleanly.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(prompt string) bool

// Confirm calls f.
func (f ConfirmerFunc) Confirm(prompt string) bool { return f(prompt) }

// Classifier is the scoring capability consumed by the processor.
type Classifier interface {
	Score(ctx context.Context, req classify.Request) classify.Result
}

// Renderer renders the note document for a finished message.
type Renderer interface {
	Render(msg *models.MessageContext) string
}

// NoteWriter persists rendered notes.
type NoteWriter interface {
	Write(msg *models.MessageContext, text string) (string, error)
}

// SeenCache is the optional local idempotency supplement.
type SeenCache interface {
	IsProcessed(ctx context.Context, account, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, account, messageID string) error
}

// AuditStore is the optional per-message audit trail.
type AuditStore interface {
	Insert(ctx context.Context, r audit.Record) error
}

// EventSink is the optional outcome-event publisher.
type EventSink interface {
	PublishOutcome(ctx context.Context, ev *events.OutcomeEvent) error
}

// Config holds dependencies for one account processor. Dialer, Classifier,
// Renderer and Confirmer are required; Seen, Audit and Events may be nil.
type Config struct {
	Account    config.AccountConfig
	RunID      string
	Dialer     transport.Dialer
	Creds      credentials.Provider
	Classifier Classifier
	Renderer   Renderer
	Notes      NoteWriter
	Seen       SeenCache
	Audit      AuditStore
	Events     EventSink
	Confirmer  Confirmer

	DryRun      bool
	Force       bool
	SkipConfirm bool
	MaxMessages int // cap on messages handled this run; 0 = unlimited
}

// Processor is the per-account pipeline. Not safe for concurrent use; the
// orchestrator constructs one per account.
type Processor struct {
	cfg Config

	state   state
	session transport.Session
	rules   *rules.Set
}

// New creates an account processor in the created state.
func New(cfg Config) *Processor {
	return &Processor{cfg: cfg, state: stateCreated}
}

// Run executes setUp → running → tearDown for this account. Setup and loop
// failures are returned to the orchestrator; teardown always runs, even after
// a failure. The summary is valid in every case.
func (p *Processor) Run(ctx context.Context) (*models.AccountSummary, error) {
	summary := &models.AccountSummary{Account: p.cfg.Account.Name}
	start := time.Now()
	defer func() {
		p.tearDown()
		summary.Elapsed = time.Since(start)
	}()

	if err := p.setUp(ctx); err != nil {
		p.state = stateFailed
		return summary, fmt.Errorf("setup for account %s: %w", p.cfg.Account.Name, err)
	}

	if err := p.runLoop(ctx, summary); err != nil {
		p.state = stateFailed
		return summary, fmt.Errorf("processing for account %s: %w", p.cfg.Account.Name, err)
	}

	return summary, nil
}

// setUp acquires the transport session and loads the rule sets.
func (p *Processor) setUp(ctx context.Context) error {
	cred, err := p.cfg.Creds.GetValidCredential(ctx)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	acct := &p.cfg.Account
	session, err := p.cfg.Dialer.Connect(ctx, transport.Endpoint{
		Host:    acct.IMAP.Host,
		Port:    acct.IMAP.Port,
		TLS:     acct.TLSEnabled(),
		Mailbox: acct.IMAP.Mailbox,
	}, cred)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	p.session = session

	ruleSet, err := rules.Load(acct.RulesFile)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	p.rules = ruleSet

	p.state = stateSetUp
	slog.Info("account processor ready",
		"account", acct.Name,
		"deny_rules", len(ruleSet.Deny),
		"allow_rules", len(ruleSet.Allow),
	)
	return nil
}

// runLoop runs the safety interlock and then the per-message loop.
func (p *Processor) runLoop(ctx context.Context, summary *models.AccountSummary) error {
	acct := &p.cfg.Account
	query := p.buildQuery()

	count, err := p.session.CountCandidates(ctx, query)
	if err != nil {
		return fmt.Errorf("count candidates: %w", err)
	}
	summary.Candidates = count

	if count == 0 {
		slog.Info("no candidate messages", "account", acct.Name)
		return nil
	}

	// Safety interlock: estimate before any content fetch.
	estimate := float64(count) * acct.Cost.PerMessage
	slog.Info("candidate messages found",
		"account", acct.Name,
		"count", count,
		"estimated_cost", fmt.Sprintf("%.4f", estimate),
	)
	if estimate > acct.Cost.ConfirmThreshold && !p.cfg.SkipConfirm {
		prompt := fmt.Sprintf("account %s: %d messages, estimated cost %.4f exceeds threshold %.2f, proceed?",
			acct.Name, count, estimate, acct.Cost.ConfirmThreshold)
		if p.cfg.Confirmer == nil || !p.cfg.Confirmer.Confirm(prompt) {
			slog.Info("processing declined by caller", "account", acct.Name)
			summary.Aborted = true
			return nil
		}
	}

	ids, err := p.session.FetchCandidateIDs(ctx, query)
	if err != nil {
		return fmt.Errorf("fetch candidate ids: %w", err)
	}

	p.state = stateRunning

	handled := 0
	for _, id := range ids {
		if p.cfg.MaxMessages > 0 && handled >= p.cfg.MaxMessages {
			slog.Warn("message cap reached, stopping early",
				"account", acct.Name,
				"cap", p.cfg.MaxMessages,
				"remaining", len(ids)-handled,
			)
			break
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		if p.skipAsSeen(ctx, id) {
			summary.Skipped++
			continue
		}

		res := p.processMessage(ctx, id)
		summary.Add(res)
		handled++
	}

	slog.Info("account processing complete",
		"account", acct.Name,
		"processed", summary.Processed,
		"recorded", summary.Recorded,
		"dropped", summary.Dropped,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return nil
}

func (p *Processor) buildQuery() transport.Query {
	q := transport.Query{}
	if days := p.cfg.Account.LookbackDays; days > 0 {
		q.Since = time.Now().AddDate(0, 0, -days)
	}
	if !p.cfg.Force {
		q.WithoutFlag = p.cfg.Account.ProcessedFlag
	}
	return q
}

// skipAsSeen consults the optional seen cache. Cache errors never block
// processing.
func (p *Processor) skipAsSeen(ctx context.Context, id string) bool {
	if p.cfg.Seen == nil || p.cfg.Force {
		return false
	}
	seen, err := p.cfg.Seen.IsProcessed(ctx, p.cfg.Account.Name, id)
	if err != nil {
		slog.Warn("seen cache check failed", "account", p.cfg.Account.Name, "error", err)
		return false
	}
	if seen {
		slog.Debug("message already in seen cache, skipping",
			"account", p.cfg.Account.Name,
			"message_id", id,
		)
	}
	return seen
}

// processMessage walks one message through the ordered gate sequence. Every
// failure is converted into a failed result; the loop never sees an error.
func (p *Processor) processMessage(ctx context.Context, id string) models.MessageResult {
	acct := &p.cfg.Account

	content, err := p.session.FetchContent(ctx, id)
	if err != nil {
		slog.Warn("fetch failed", "account", acct.Name, "message_id", id, "error", err)
		res := models.MessageResult{ID: id, Outcome: models.OutcomeFailed, Err: fmt.Sprintf("fetch: %v", err)}
		p.recordOutcome(ctx, nil, res)
		return res
	}

	msg := &models.MessageContext{
		ID:        id,
		Sender:    content.Sender,
		Subject:   content.Subject,
		Date:      content.Date,
		HTMLBody:  content.HTMLBody,
		PlainBody: content.PlainBody,
	}

	switch rules.EvaluateDeny(msg, p.rules.Deny) {
	case rules.ActionDrop:
		// No artifact, no flag.
		msg.SetOutcome(models.OutcomeDropped)
		slog.Info("message dropped by deny rule", "account", acct.Name, "message_id", id, "sender", msg.Sender)
		res := models.MessageResult{ID: id, Outcome: models.OutcomeDropped}
		p.recordOutcome(ctx, msg, res)
		return res

	case rules.ActionRecord:
		return p.finishMessage(ctx, msg, models.OutcomeRecorded)
	}

	// pass: full pipeline
	msg.NormalizedBody, msg.UsedFallback = normalize.Normalize(msg.HTMLBody, msg.PlainBody)

	scored := p.cfg.Classifier.Score(ctx, classify.Request{
		Endpoint:    acct.Classifier.Endpoint,
		APIKey:      acct.Classifier.APIKey,
		Model:       acct.Classifier.Model,
		Temperature: acct.Classifier.Temperature,
		MaxTokens:   acct.Classifier.MaxTokens,
		MaxRetries:  acct.Classifier.MaxRetries,
		RetryDelay:  acct.Classifier.RetryDelay,
		Text:        msg.NormalizedBody,
	})
	msg.ImportanceScore = scored.ImportanceScore
	msg.SpamScore = scored.SpamScore
	msg.ClassifierLabels = scored.Labels

	dec := decision.Classify(msg.ImportanceScore, msg.SpamScore, acct.Thresholds.Importance, acct.Thresholds.Spam)
	msg.Important = dec.Important
	msg.Spam = dec.Spam
	msg.DecisionStatus = string(dec.Status)
	// Scored drives the note layout: a sentinel result renders as unscored.
	msg.Scored = dec.Status == decision.StatusSuccess

	boosted, labels := rules.ApplyAllow(msg, p.rules.Allow, maxInt(dec.ImportanceScore, 0))
	msg.RuleBoost = boosted - maxInt(dec.ImportanceScore, 0)
	msg.RuleLabels = labels
	if dec.Status == decision.StatusSuccess {
		msg.FinalScore = boosted
	} else {
		msg.FinalScore = models.SentinelScore
	}

	return p.finishMessage(ctx, msg, models.OutcomeProcessed)
}

// finishMessage handles the shared tail of the recorded and processed paths:
// normalize if not yet done, render and write the note, then set the
// idempotency flag. Flag failures are logged, not fatal: the note is already
// on disk.
func (p *Processor) finishMessage(ctx context.Context, msg *models.MessageContext, outcome models.Outcome) models.MessageResult {
	acct := &p.cfg.Account

	if msg.NormalizedBody == "" {
		msg.NormalizedBody, msg.UsedFallback = normalize.Normalize(msg.HTMLBody, msg.PlainBody)
	}

	// Render against a copy carrying the prospective outcome; the real
	// context records its outcome only once the note write has settled, so
	// the context and the result can never disagree.
	rendered := *msg
	rendered.SetOutcome(outcome)
	text := p.cfg.Renderer.Render(&rendered)

	if _, err := p.cfg.Notes.Write(msg, text); err != nil {
		slog.Warn("note write failed", "account", acct.Name, "message_id", msg.ID, "error", err)
		msg.SetOutcome(models.OutcomeFailed)
		res := models.MessageResult{ID: msg.ID, Outcome: models.OutcomeFailed, Err: fmt.Sprintf("write note: %v", err)}
		p.recordOutcome(ctx, msg, res)
		return res
	}

	msg.SetOutcome(outcome)
	p.setProcessedFlag(ctx, msg.ID)
	p.markSeen(ctx, msg.ID)

	res := models.MessageResult{ID: msg.ID, Outcome: outcome}
	p.recordOutcome(ctx, msg, res)
	return res
}

func (p *Processor) setProcessedFlag(ctx context.Context, id string) {
	acct := &p.cfg.Account
	if p.cfg.DryRun {
		slog.Info("dry run: would set processed flag",
			"account", acct.Name,
			"message_id", id,
			"flag", acct.ProcessedFlag,
		)
		return
	}
	if err := p.session.SetFlag(ctx, id, acct.ProcessedFlag); err != nil {
		// The note already exists; next run may reprocess this message.
		slog.Warn("failed to set processed flag",
			"account", acct.Name,
			"message_id", id,
			"flag", acct.ProcessedFlag,
			"error", err,
		)
	}
}

func (p *Processor) markSeen(ctx context.Context, id string) {
	if p.cfg.Seen == nil || p.cfg.DryRun {
		return
	}
	if err := p.cfg.Seen.MarkProcessed(ctx, p.cfg.Account.Name, id); err != nil {
		slog.Warn("seen cache update failed", "account", p.cfg.Account.Name, "error", err)
	}
}

// recordOutcome emits the optional audit record and outcome event for one
// finished message. Both are best-effort and skipped in dry runs. msg may be
// nil when the message never made it past the fetch.
func (p *Processor) recordOutcome(ctx context.Context, msg *models.MessageContext, res models.MessageResult) {
	if p.cfg.DryRun {
		return
	}

	rec := audit.Record{
		RunID:     p.cfg.RunID,
		Account:   p.cfg.Account.Name,
		MessageID: res.ID,
		Outcome:   string(res.Outcome),
		Error:     res.Err,
	}
	ev := events.OutcomeEvent{
		RunID:     p.cfg.RunID,
		Account:   p.cfg.Account.Name,
		MessageID: res.ID,
		Outcome:   string(res.Outcome),
		Error:     res.Err,
	}
	if msg != nil && msg.Scored {
		rec.ImportanceScore, ev.ImportanceScore = msg.ImportanceScore, msg.ImportanceScore
		rec.SpamScore, ev.SpamScore = msg.SpamScore, msg.SpamScore
		rec.FinalScore, ev.FinalScore = msg.FinalScore, msg.FinalScore
		rec.Important, ev.Important = msg.Important, msg.Important
		rec.Spam, ev.Spam = msg.Spam, msg.Spam
		rec.Labels, ev.Labels = msg.Labels(), msg.Labels()
	}

	if p.cfg.Audit != nil {
		if err := p.cfg.Audit.Insert(ctx, rec); err != nil {
			slog.Warn("audit insert failed", "account", p.cfg.Account.Name, "error", err)
		}
	}
	if p.cfg.Events != nil {
		if err := p.cfg.Events.PublishOutcome(ctx, &ev); err != nil {
			slog.Warn("outcome event publish failed", "account", p.cfg.Account.Name, "error", err)
		}
	}
}

// tearDown releases the session and clears per-run state. Idempotent and safe
// after a partial setup.
func (p *Processor) tearDown() {
	if p.session != nil {
		if err := p.session.Close(); err != nil {
			slog.Debug("session close failed", "account", p.cfg.Account.Name, "error", err)
		}
		p.session = nil
	}
	p.rules = nil
	if p.state != stateFailed {
		p.state = stateTornDown
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
