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

// Package events publishes per-message outcome events to a Redis list so
// downstream consumers (dashboards, follow-up automation) can react without
// polling the notes directory. Publishing is optional and best-effort.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OutcomeEvent is the JSON payload pushed for every finished message.
type OutcomeEvent struct {
	EventID         string   `json:"event_id"`
	RunID           string   `json:"run_id"`
	Account         string   `json:"account"`
	MessageID       string   `json:"message_id"`
	Outcome         string   `json:"outcome"`
	ImportanceScore int      `json:"importance_score"`
	SpamScore       int      `json:"spam_score"`
	FinalScore      int      `json:"final_score"`
	Important       bool     `json:"important"`
	Spam            bool     `json:"spam"`
	Labels          []string `json:"labels,omitempty"`
	Error           string   `json:"error,omitempty"`
	EmittedAt       string   `json:"emitted_at"`
}

// Publisher pushes outcome events to a Redis list.
type Publisher struct {
	rdb      *redis.Client
	listName string
}

// NewPublisher creates a publisher targeting the given list.
func NewPublisher(rdb *redis.Client, listName string) *Publisher {
	return &Publisher{rdb: rdb, listName: listName}
}

// PublishOutcome serialises the event and pushes it. The event ID and
// timestamp are filled in here.
func (p *Publisher) PublishOutcome(ctx context.Context, ev *OutcomeEvent) error {
	ev.EventID = uuid.New().String()
	ev.EmittedAt = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.listName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published outcome event",
		"event_id", ev.EventID,
		"account", ev.Account,
		"message_id", ev.MessageID,
		"outcome", ev.Outcome,
		"list", p.listName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
