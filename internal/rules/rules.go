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

// Package rules implements the declarative allow/deny rule engine. Deny rules
// run before classification and can drop or record a message; allow rules run
// after classification and boost the score and add labels. Rule sets are
// loaded once per account run and are immutable afterwards.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/jearle/mailsift/internal/models"
)

// Trigger selects which message field a rule matches against.
type Trigger int

const (
	TriggerSender Trigger = iota
	TriggerSubject
	TriggerDomain
)

// String returns the rule-file spelling of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerSender:
		return "sender"
	case TriggerSubject:
		return "subject"
	case TriggerDomain:
		return "domain"
	}
	return "unknown"
}

// Action is the tagged outcome of a deny rule, validated once at load time.
type Action int

const (
	ActionPass Action = iota
	ActionRecord
	ActionDrop
)

// String returns the rule-file spelling of the action.
func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionRecord:
		return "record"
	case ActionDrop:
		return "drop"
	}
	return "unknown"
}

// regexMeta is the set of characters whose presence marks a match value as a
// regular expression rather than a literal substring. "." is deliberately
// absent: every mail address contains one.
const regexMeta = `\^$|?*+()[]{}`

var errNoMatcher = errors.New("rule has no compiled matcher")

// matcher is a compiled match value: either a lowercased literal substring or
// a case-insensitive regular expression, auto-detected at load time.
type matcher struct {
	literal string
	re      *regexp.Regexp
}

func newMatcher(value string) (*matcher, error) {
	if strings.ContainsAny(value, regexMeta) {
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", value, err)
		}
		return &matcher{re: re}, nil
	}
	return &matcher{literal: strings.ToLower(value)}, nil
}

// contains reports whether s matches by case-insensitive substring
// containment, or by regex match when the value was detected as a pattern.
func (m *matcher) contains(s string) (bool, error) {
	if m == nil {
		return false, errNoMatcher
	}
	if m.re != nil {
		return m.re.MatchString(s), nil
	}
	return strings.Contains(strings.ToLower(s), m.literal), nil
}

// equalsFold reports whether s matches by case-insensitive exact equality, or
// by regex match when the value was detected as a pattern. Regex values allow
// subdomain patterns against the extracted domain.
func (m *matcher) equalsFold(s string) (bool, error) {
	if m == nil {
		return false, errNoMatcher
	}
	if m.re != nil {
		return m.re.MatchString(s), nil
	}
	return strings.ToLower(s) == m.literal, nil
}

// DenyRule drops or records a message before classification.
type DenyRule struct {
	Trigger Trigger
	Value   string
	Action  Action
	m       *matcher
}

// AllowRule boosts the score and adds labels after classification.
type AllowRule struct {
	Trigger Trigger
	Value   string
	Boost   int
	Tags    []string
	m       *matcher
}

// Set is the immutable rule set for one account run. Deny and allow rules
// keep their load order.
type Set struct {
	Deny  []DenyRule
	Allow []AllowRule
}

func matchTrigger(m *matcher, trigger Trigger, msg *models.MessageContext) (bool, error) {
	switch trigger {
	case TriggerSender:
		return m.contains(msg.Sender)
	case TriggerSubject:
		return m.contains(msg.Subject)
	case TriggerDomain:
		domain := msg.SenderDomain()
		if domain == "" {
			return false, nil
		}
		return m.equalsFold(domain)
	}
	return false, fmt.Errorf("unknown trigger %d", trigger)
}

// EvaluateDeny evaluates deny rules in list order and returns the resulting
// action with priority drop > record > pass. A drop match returns
// immediately; a record match is remembered unless a later rule drops. A rule
// that fails during matching is logged and skipped, never fatal.
func EvaluateDeny(msg *models.MessageContext, denyRules []DenyRule) Action {
	result := ActionPass
	for i := range denyRules {
		r := &denyRules[i]
		matched, err := matchTrigger(r.m, r.Trigger, msg)
		if err != nil {
			slog.Warn("deny rule evaluation failed, skipping rule",
				"trigger", r.Trigger.String(),
				"value", r.Value,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}
		if r.Action == ActionDrop {
			return ActionDrop
		}
		if r.Action == ActionRecord {
			result = ActionRecord
		}
	}
	return result
}

// ApplyAllow evaluates allow rules cumulatively: every matching rule's boost
// is added to baseScore and its tags are merged into the returned label set.
// The label set is deduplicated and sorted so the result is independent of
// rule order. An empty rule list returns the inputs unchanged.
func ApplyAllow(msg *models.MessageContext, allowRules []AllowRule, baseScore int) (int, []string) {
	score := baseScore
	seen := make(map[string]struct{})
	var labels []string

	for i := range allowRules {
		r := &allowRules[i]
		matched, err := matchTrigger(r.m, r.Trigger, msg)
		if err != nil {
			slog.Warn("allow rule evaluation failed, skipping rule",
				"trigger", r.Trigger.String(),
				"value", r.Value,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}
		score += r.Boost
		for _, tag := range r.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			labels = append(labels, tag)
		}
	}

	sort.Strings(labels)
	return score, labels
}
