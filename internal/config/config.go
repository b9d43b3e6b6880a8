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

// Package config loads configuration from config.yaml and environment
// variables. Global defaults and per-account overrides are merged once at
// load time; accounts emerge fully resolved and are treated as read-only
// value objects by the pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jearle/mailsift/internal/transport"
)

// ExamplePrefix marks accounts that exist only as configuration
// documentation. They are skipped when resolving "all accounts".
const ExamplePrefix = "example"

// IMAPSettings locate and secure the mailbox connection.
type IMAPSettings struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	TLS     *bool  `yaml:"tls"`
	Mailbox string `yaml:"mailbox"`
}

// AuthSettings hold account credentials: either a static password or an
// OAuth2 client-credentials grant.
type AuthSettings struct {
	Kind         string   `yaml:"kind"` // "password" or "oauth2"
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// ClassifierSettings configure the external scoring service for one account.
type ClassifierSettings struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// Thresholds are the inclusive decision boundaries, both in [0,10].
type Thresholds struct {
	Importance int `yaml:"importance"`
	Spam       int `yaml:"spam"`
}

// CostSettings drive the safety interlock.
type CostSettings struct {
	PerMessage       float64 `yaml:"per_message"`
	ConfirmThreshold float64 `yaml:"confirm_threshold"`
}

// AccountConfig is the merged, read-only configuration for one account.
type AccountConfig struct {
	Name          string
	IMAP          IMAPSettings
	Auth          AuthSettings
	Classifier    ClassifierSettings
	Thresholds    Thresholds
	Cost          CostSettings
	NotesDir      string
	RulesFile     string
	ProcessedFlag string
	LookbackDays  int
}

// TLSEnabled reports whether the account uses implicit TLS (the default).
func (a *AccountConfig) TLSEnabled() bool {
	return a.IMAP.TLS == nil || *a.IMAP.TLS
}

// Config holds all configuration for one orchestration run.
type Config struct {
	Accounts []AccountConfig

	// Optional infrastructure. Empty URL disables the feature.
	RedisURL    string
	DatabaseURL string
	EventsList  string

	// MaxMessages is the global per-run cap; 0 means unlimited.
	MaxMessages int
}

// accountDefaults is the "defaults" section of the YAML file. Accounts
// inherit any field they do not override.
type accountDefaults struct {
	IMAP          IMAPSettings       `yaml:"imap"`
	Classifier    ClassifierSettings `yaml:"classifier"`
	Thresholds    *Thresholds        `yaml:"thresholds"`
	Cost          *CostSettings      `yaml:"cost"`
	NotesDir      string             `yaml:"notes_dir"`
	RulesFile     string             `yaml:"rules_file"`
	ProcessedFlag string             `yaml:"processed_flag"`
	LookbackDays  int                `yaml:"lookback_days"`
}

// rawAccount mirrors one account entry in the YAML file.
type rawAccount struct {
	Name          string             `yaml:"name"`
	IMAP          IMAPSettings       `yaml:"imap"`
	Auth          AuthSettings       `yaml:"auth"`
	Classifier    ClassifierSettings `yaml:"classifier"`
	Thresholds    *Thresholds        `yaml:"thresholds"`
	Cost          *CostSettings      `yaml:"cost"`
	NotesDir      string             `yaml:"notes_dir"`
	RulesFile     string             `yaml:"rules_file"`
	ProcessedFlag string             `yaml:"processed_flag"`
	LookbackDays  int                `yaml:"lookback_days"`
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Defaults accountDefaults `yaml:"defaults"`
	Accounts []rawAccount    `yaml:"accounts"`
	Redis    struct {
		URL        string `yaml:"url"`
		EventsList string `yaml:"events_list"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Limits struct {
		MaxMessages int `yaml:"max_messages"`
	} `yaml:"limits"`
}

// Load reads configuration from the given path (with env var expansion) and
// environment variables for non-YAML settings. An empty path falls back to
// CONFIG_PATH and then ./config.yaml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = envOrDefault("CONFIG_PATH", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		RedisURL:    firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		EventsList:  firstNonEmpty(raw.Redis.EventsList, envOrDefault("EVENTS_LIST", "mailsift:outcomes")),
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		MaxMessages: firstNonZero(raw.Limits.MaxMessages, envOrDefaultInt("MAX_MESSAGES", 0)),
	}

	for _, a := range raw.Accounts {
		merged, err := mergeAccount(raw.Defaults, a)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Name, err)
		}
		cfg.Accounts = append(cfg.Accounts, merged)
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured in %s", path)
	}

	return cfg, nil
}

// mergeAccount resolves one account against the global defaults and validates
// the result.
func mergeAccount(d accountDefaults, a rawAccount) (AccountConfig, error) {
	if a.Name == "" {
		return AccountConfig{}, fmt.Errorf("account has no name")
	}

	acct := AccountConfig{
		Name: a.Name,
		Auth: a.Auth,
		IMAP: IMAPSettings{
			Host:    firstNonEmpty(a.IMAP.Host, d.IMAP.Host),
			Port:    firstNonZero(a.IMAP.Port, d.IMAP.Port, 993),
			Mailbox: firstNonEmpty(a.IMAP.Mailbox, d.IMAP.Mailbox, "INBOX"),
			TLS:     a.IMAP.TLS,
		},
		Classifier: ClassifierSettings{
			Endpoint:    firstNonEmpty(a.Classifier.Endpoint, d.Classifier.Endpoint),
			Model:       firstNonEmpty(a.Classifier.Model, d.Classifier.Model),
			APIKey:      firstNonEmpty(a.Classifier.APIKey, d.Classifier.APIKey),
			Temperature: firstNonZeroFloat(a.Classifier.Temperature, d.Classifier.Temperature),
			MaxTokens:   firstNonZero(a.Classifier.MaxTokens, d.Classifier.MaxTokens, 64),
			MaxRetries:  firstNonZero(a.Classifier.MaxRetries, d.Classifier.MaxRetries, 3),
			RetryDelay:  firstNonZeroDuration(a.Classifier.RetryDelay, d.Classifier.RetryDelay, 2*time.Second),
		},
		Thresholds: Thresholds{
			Importance: 7,
			Spam:       7,
		},
		Cost: CostSettings{
			PerMessage:       0.002,
			ConfirmThreshold: 1.0,
		},
		NotesDir:      firstNonEmpty(a.NotesDir, d.NotesDir, "notes"),
		RulesFile:     firstNonEmpty(a.RulesFile, d.RulesFile),
		ProcessedFlag: firstNonEmpty(a.ProcessedFlag, d.ProcessedFlag, "MailSift.Processed"),
		LookbackDays:  firstNonZero(a.LookbackDays, d.LookbackDays, 7),
	}

	if acct.IMAP.TLS == nil {
		acct.IMAP.TLS = d.IMAP.TLS
	}

	if t := firstThresholds(a.Thresholds, d.Thresholds); t != nil {
		acct.Thresholds = *t
	}
	if c := firstCost(a.Cost, d.Cost); c != nil {
		acct.Cost = *c
	}

	// Validate the merged result
	if acct.IMAP.Host == "" {
		return AccountConfig{}, fmt.Errorf("no IMAP host configured")
	}
	if acct.Auth.Username == "" {
		return AccountConfig{}, fmt.Errorf("no auth username configured")
	}
	switch acct.Auth.Kind {
	case "", "password":
		acct.Auth.Kind = "password"
	case "oauth2":
		if acct.Auth.ClientID == "" || acct.Auth.ClientSecret == "" || acct.Auth.TokenURL == "" {
			return AccountConfig{}, fmt.Errorf("oauth2 auth requires client_id, client_secret and token_url")
		}
	default:
		return AccountConfig{}, fmt.Errorf("unknown auth kind %q", acct.Auth.Kind)
	}
	if acct.Classifier.Endpoint == "" {
		return AccountConfig{}, fmt.Errorf("no classifier endpoint configured")
	}
	if !transport.ValidFlagName(acct.ProcessedFlag) {
		return AccountConfig{}, fmt.Errorf("invalid processed flag %q: only alphanumerics, underscore and period are allowed", acct.ProcessedFlag)
	}
	if !validThreshold(acct.Thresholds.Importance) || !validThreshold(acct.Thresholds.Spam) {
		return AccountConfig{}, fmt.Errorf("thresholds must be in [0,10], got importance=%d spam=%d",
			acct.Thresholds.Importance, acct.Thresholds.Spam)
	}

	return acct, nil
}

func validThreshold(t int) bool {
	return t >= 0 && t <= 10
}

func firstThresholds(values ...*Thresholds) *Thresholds {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstCost(values ...*CostSettings) *CostSettings {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroFloat(values ...float64) float64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonZeroDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
