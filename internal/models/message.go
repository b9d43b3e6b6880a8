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

// Package models defines the data structures shared across the triage pipeline.
package models

import (
	"strings"
	"time"
)

// SentinelScore marks a classification that failed upstream. Both scores are
// forced to this value when the classifier could not produce a result.
const SentinelScore = -1

// Outcome is the terminal action recorded for a message.
type Outcome string

const (
	// OutcomeNone means no pipeline stage has finished the message yet.
	OutcomeNone Outcome = ""
	// OutcomeProcessed means the full pipeline ran and a note was written.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDropped means a deny rule discarded the message before
	// classification. No artifact is written and no flag is set.
	OutcomeDropped Outcome = "dropped"
	// OutcomeRecorded means a deny rule short-circuited classification but a
	// raw note was still written.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeFailed means an unrecoverable per-message error occurred.
	OutcomeFailed Outcome = "failed"
)

// MessageContext carries one message through the pipeline. It is constructed
// immediately after the transport fetch, mutated in place by each stage in
// order, and treated as read-only once the outcome is set.
type MessageContext struct {
	// Identity, filled from the transport fetch.
	ID      string
	Sender  string
	Subject string
	Date    time.Time

	// Raw content. At least one of the two is present after fetch.
	HTMLBody  string
	PlainBody string

	// Derived content, filled by the normalization stage.
	NormalizedBody string
	UsedFallback   bool

	// Classification, filled by the classifier stage. Scored stays false
	// until the classifier has run; the scores are only meaningful after.
	ImportanceScore  int
	SpamScore        int
	Scored           bool
	ClassifierLabels []string

	// Rule effects, filled by the allow-rule stage.
	RuleBoost  int
	RuleLabels []string

	// Final verdict, filled by the decision stage.
	Important      bool
	Spam           bool
	FinalScore     int
	DecisionStatus string

	outcome Outcome
}

// SetOutcome records the terminal action for the message. Only the first call
// takes effect; later calls are ignored and return false.
func (m *MessageContext) SetOutcome(o Outcome) bool {
	if m.outcome != OutcomeNone {
		return false
	}
	m.outcome = o
	return true
}

// Outcome returns the terminal action, or OutcomeNone while in flight.
func (m *MessageContext) Outcome() Outcome {
	return m.outcome
}

// SenderDomain returns the lowercased part of the sender address after the
// final "@", or "" if the address has none.
func (m *MessageContext) SenderDomain() string {
	i := strings.LastIndex(m.Sender, "@")
	if i < 0 || i == len(m.Sender)-1 {
		return ""
	}
	return strings.ToLower(m.Sender[i+1:])
}

// Labels returns the union of classifier- and rule-assigned labels, with
// duplicates collapsed, preserving first-seen order.
func (m *MessageContext) Labels() []string {
	seen := make(map[string]struct{}, len(m.ClassifierLabels)+len(m.RuleLabels))
	var out []string
	for _, group := range [][]string{m.ClassifierLabels, m.RuleLabels} {
		for _, l := range group {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

// MessageResult is the per-message entry in an account's running tally.
type MessageResult struct {
	ID      string
	Outcome Outcome
	Err     string
}

// AccountSummary aggregates one account processor run.
type AccountSummary struct {
	Account    string
	Candidates int
	Processed  int
	Recorded   int
	Dropped    int
	Skipped    int
	Failed     int
	Aborted    bool // caller declined the cost confirmation
	Elapsed    time.Duration
	Messages   []MessageResult
}

// Add records a message result into the tally.
func (s *AccountSummary) Add(r MessageResult) {
	s.Messages = append(s.Messages, r)
	switch r.Outcome {
	case OutcomeProcessed:
		s.Processed++
	case OutcomeRecorded:
		s.Recorded++
	case OutcomeDropped:
		s.Dropped++
	case OutcomeFailed:
		s.Failed++
	}
}
