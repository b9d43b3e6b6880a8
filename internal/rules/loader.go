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

package rules

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// record mirrors one rule entry in the YAML rule file.
type record struct {
	Trigger    string   `yaml:"trigger"`
	Value      string   `yaml:"value"`
	Action     string   `yaml:"action"`
	ScoreBoost int      `yaml:"score_boost"`
	AddTags    []string `yaml:"add_tags"`
}

// Load reads an ordered list of rule records from a YAML file.
//
// A missing or empty file yields an empty rule set, not an error: rules are
// optional. A file that fails to parse as YAML is an operator mistake and is
// fatal. A single malformed rule (unknown trigger or action, bad pattern) is
// logged and skipped so one typo cannot disable the whole set.
func Load(path string) (*Set, error) {
	set := &Set{}

	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("no rule file found, continuing with empty rule set", "path", path)
			return set, nil
		}
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}

	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	for i, rec := range records {
		if err := set.add(rec); err != nil {
			slog.Warn("skipping malformed rule",
				"path", path,
				"index", i,
				"error", err,
			)
		}
	}

	slog.Info("rule set loaded",
		"path", path,
		"deny", len(set.Deny),
		"allow", len(set.Allow),
	)

	return set, nil
}

func (s *Set) add(rec record) error {
	trigger, err := parseTrigger(rec.Trigger)
	if err != nil {
		return err
	}
	if rec.Value == "" {
		return fmt.Errorf("rule has empty match value")
	}

	m, err := newMatcher(rec.Value)
	if err != nil {
		return err
	}

	switch rec.Action {
	case "drop", "record", "pass":
		action := ActionPass
		switch rec.Action {
		case "drop":
			action = ActionDrop
		case "record":
			action = ActionRecord
		}
		s.Deny = append(s.Deny, DenyRule{
			Trigger: trigger,
			Value:   rec.Value,
			Action:  action,
			m:       m,
		})
	case "boost":
		if rec.ScoreBoost < 0 {
			return fmt.Errorf("boost rule has negative score_boost %d", rec.ScoreBoost)
		}
		s.Allow = append(s.Allow, AllowRule{
			Trigger: trigger,
			Value:   rec.Value,
			Boost:   rec.ScoreBoost,
			Tags:    rec.AddTags,
			m:       m,
		})
	default:
		return fmt.Errorf("unknown action %q", rec.Action)
	}

	return nil
}

func parseTrigger(s string) (Trigger, error) {
	switch s {
	case "sender":
		return TriggerSender, nil
	case "subject":
		return TriggerSubject, nil
	case "domain":
		return TriggerDomain, nil
	}
	return 0, fmt.Errorf("unknown trigger %q", s)
}
