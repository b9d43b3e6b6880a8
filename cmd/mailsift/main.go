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

// MailSift — multi-account email triage
//
// Entry point for the triage CLI. It:
//  1. Loads multi-account configuration from config.yaml
//  2. Optionally connects to Redis (seen cache, outcome events) and
//     PostgreSQL (audit trail); both are skipped when unconfigured
//  3. Resolves the account selection from the command line
//  4. Runs each selected account through the triage pipeline in isolation
//  5. Exits 0 on success, 1 on configuration errors, 2 when one or more
//     accounts failed
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jearle/mailsift/internal/artifact"
	"github.com/jearle/mailsift/internal/audit"
	"github.com/jearle/mailsift/internal/classify"
	"github.com/jearle/mailsift/internal/config"
	"github.com/jearle/mailsift/internal/events"
	"github.com/jearle/mailsift/internal/orchestrator"
	"github.com/jearle/mailsift/internal/processor"
	"github.com/jearle/mailsift/internal/seen"
	"github.com/jearle/mailsift/internal/transport"
)

func main() {
	var (
		accountFlag  = flag.String("account", "", "process a single named account")
		accountsFlag = flag.String("accounts", "", "comma-separated list of account names to process")
		allFlag      = flag.Bool("all", false, "process every configured account (example accounts excluded)")
		dryRunFlag   = flag.Bool("dry-run", false, "run the pipeline without writing notes or setting flags")
		forceFlag    = flag.Bool("force", false, "reprocess messages that already carry the processed flag")
		yesFlag      = flag.Bool("yes", false, "skip the cost confirmation prompt")
		maxFlag      = flag.Int("max-messages", 0, "cap on messages handled across all accounts (0 = unlimited)")
		configFlag   = flag.String("config", "", "path to config.yaml (default: $CONFIG_PATH, then ./config.yaml)")
		verboseFlag  = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailsift")

	cfg, err := config.Load(*configFlag)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "accounts", len(cfg.Accounts))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The client is shared; each scoring request carries its own account's
	// retry policy.
	deps := orchestrator.Deps{
		Dialer:     transport.NewIMAPDialer(),
		Classifier: classify.NewClient(classify.ClientConfig{}),
		Renderer:   artifact.NewRenderer(),
		Confirmer:  stdinConfirmer{},
	}

	// --- Optional Redis: seen cache + outcome events ---
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid Redis URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		cache := seen.NewCache(rdb)
		publisher := events.NewPublisher(rdb, cfg.EventsList)
		if err := cache.Ping(ctx); err != nil {
			slog.Warn("Redis unreachable, continuing without seen cache", "error", err)
		} else {
			deps.Seen = cache
			slog.Info("connected to Redis")
		}
		if err := publisher.Ping(ctx); err != nil {
			slog.Warn("Redis unreachable, continuing without outcome events", "error", err)
		} else {
			deps.Events = publisher
			slog.Info("outcome events enabled", "events_list", cfg.EventsList)
		}
	}

	// --- Optional PostgreSQL: audit trail ---
	var auditStore *audit.Store
	if cfg.DatabaseURL != "" {
		pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		store, err := audit.NewStore(ctx, pgPool)
		if err != nil {
			slog.Warn("PostgreSQL unreachable, continuing without audit trail", "error", err)
		} else {
			auditStore = store
			deps.Audit = store
			slog.Info("connected to PostgreSQL")
		}
	}

	opts := orchestrator.Options{
		All:         *allFlag,
		DryRun:      *dryRunFlag,
		Force:       *forceFlag,
		SkipConfirm: *yesFlag,
		MaxMessages: firstNonZero(*maxFlag, cfg.MaxMessages),
	}
	if *accountFlag != "" {
		opts.Accounts = append(opts.Accounts, *accountFlag)
	}
	for _, name := range strings.Split(*accountsFlag, ",") {
		if name = strings.TrimSpace(name); name != "" {
			opts.Accounts = append(opts.Accounts, name)
		}
	}

	res, err := orchestrator.New(cfg, deps).Run(ctx, opts)
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}

	for name, st := range res.Accounts {
		if !st.OK {
			slog.Error("account failed", "account", name, "error", st.Err)
			continue
		}
		s := st.Summary
		slog.Info("account finished",
			"account", name,
			"candidates", s.Candidates,
			"processed", s.Processed,
			"recorded", s.Recorded,
			"dropped", s.Dropped,
			"skipped", s.Skipped,
			"failed", s.Failed,
			"aborted", s.Aborted,
			"elapsed", s.Elapsed.Round(time.Millisecond).String(),
		)
		if auditStore != nil {
			totals, err := auditStore.CountByOutcome(ctx, name)
			if err != nil {
				slog.Warn("audit outcome totals unavailable", "account", name, "error", err)
			} else {
				slog.Info("audit outcome totals", "account", name, "totals", totals)
			}
		}
	}

	if auditStore != nil {
		records, err := auditStore.ListByRun(ctx, res.RunID)
		if err != nil {
			slog.Warn("audit trail summary unavailable", "run_id", res.RunID, "error", err)
		} else {
			slog.Info("audit trail written", "run_id", res.RunID, "records", len(records))
		}
	}

	// Exit 2 distinguishes partial account failures from configuration errors.
	if res.Failed > 0 {
		os.Exit(2)
	}
}

// stdinConfirmer implements the cost interlock prompt on the terminal.
type stdinConfirmer struct{}

func (stdinConfirmer) Confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

var _ processor.Confirmer = stdinConfirmer{}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
