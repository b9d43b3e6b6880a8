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

// Package audit provides a Postgres-backed audit trail: one row per message
// outcome, keyed by run and account. The store is optional; when no database
// is configured the pipeline runs without it.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one audited message outcome.
type Record struct {
	ID              int64
	RunID           string
	Account         string
	MessageID       string
	Outcome         string
	ImportanceScore int
	SpamScore       int
	FinalScore      int
	Important       bool
	Spam            bool
	Labels          []string
	Error           string
	CreatedAt       time.Time
}

// Store provides audit record persistence in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an audit store backed by the given Postgres pool. It
// ensures the audit table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	slog.Info("audit store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS triage_audit (
			id               BIGSERIAL PRIMARY KEY,
			run_id           TEXT NOT NULL,
			account          TEXT NOT NULL,
			message_id       TEXT NOT NULL,
			outcome          TEXT NOT NULL,
			importance_score INT DEFAULT -1,
			spam_score       INT DEFAULT -1,
			final_score      INT DEFAULT -1,
			important        BOOLEAN DEFAULT FALSE,
			spam             BOOLEAN DEFAULT FALSE,
			labels           TEXT[] DEFAULT '{}',
			error            TEXT DEFAULT '',
			created_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_run ON triage_audit(run_id);
		CREATE INDEX IF NOT EXISTS idx_audit_account ON triage_audit(account);
	`)
	return err
}

// Insert writes one audit record.
func (s *Store) Insert(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO triage_audit
			(run_id, account, message_id, outcome, importance_score, spam_score,
			 final_score, important, spam, labels, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.RunID, r.Account, r.MessageID, r.Outcome, r.ImportanceScore, r.SpamScore,
		r.FinalScore, r.Important, r.Spam, r.Labels, r.Error)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListByRun returns all audit records for one orchestration run, oldest first.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, account, message_id, outcome, importance_score,
		       spam_score, final_score, important, spam, labels, error, created_at
		FROM triage_audit
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RunID, &r.Account, &r.MessageID, &r.Outcome,
			&r.ImportanceScore, &r.SpamScore, &r.FinalScore, &r.Important, &r.Spam,
			&r.Labels, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountByOutcome returns outcome totals for one account across all runs.
func (s *Store) CountByOutcome(ctx context.Context, account string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT outcome, COUNT(*)
		FROM triage_audit
		WHERE account = $1
		GROUP BY outcome
	`, account)
	if err != nil {
		return nil, fmt.Errorf("count audit outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
