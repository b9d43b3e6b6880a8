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

// Package classify provides the HTTP client for the external scoring service.
// The service receives a bounded-length normalized body plus model parameters
// and returns an importance score and a spam score, both integers in [0,10],
// with optional free-form labels. The client retries with increasing delay;
// after exhaustion it reports the sentinel result instead of an error so the
// message is still accounted for downstream.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jearle/mailsift/internal/models"
)

// DefaultMaxRetries bounds the retry loop when the account does not
// configure one.
const DefaultMaxRetries = 3

// Request carries one scoring call. Endpoint, credentials, model parameters
// and the retry policy come from the account configuration, so one shared
// client serves every account. Zero retry values fall back to the client
// defaults.
type Request struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	RetryDelay  time.Duration
	Text        string
}

// Result is the outcome of a scoring call. Failed results carry the sentinel
// scores and no labels.
type Result struct {
	ImportanceScore int
	SpamScore       int
	Labels          []string
	Failed          bool
}

// sentinelResult represents a classification failure after retries.
func sentinelResult() Result {
	return Result{
		ImportanceScore: models.SentinelScore,
		SpamScore:       models.SentinelScore,
		Failed:          true,
	}
}

// scoreRequest mirrors the service's request JSON.
type scoreRequest struct {
	Model       string  `json:"model"`
	Input       string  `json:"input"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// scoreResponse mirrors the service's response JSON.
type scoreResponse struct {
	ImportanceScore int      `json:"importance_score"`
	SpamScore       int      `json:"spam_score"`
	Labels          []string `json:"labels"`
}

// Client calls the scoring service. It holds no per-account state and is safe
// to share across account processors.
type Client struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// ClientConfig holds the retry policy for the scoring client.
type ClientConfig struct {
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient creates a scoring client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		maxRetries: retries,
		retryDelay: delay,
	}
}

// Score runs the bounded retry loop around one scoring request. The delay
// grows linearly with the attempt number. Exhaustion yields the sentinel
// result, never an error. The request's retry policy wins over the client
// defaults so per-account settings apply on a shared client.
func (c *Client) Score(ctx context.Context, req Request) Result {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.maxRetries
	}
	retryDelay := req.RetryDelay
	if retryDelay <= 0 {
		retryDelay = c.retryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				slog.Warn("classification cancelled", "error", ctx.Err())
				return sentinelResult()
			case <-time.After(retryDelay * time.Duration(attempt-1)):
			}
		}

		res, err := c.scoreOnce(ctx, req)
		if err == nil {
			return res
		}
		lastErr = err
		slog.Warn("classification attempt failed",
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err,
		)
	}

	slog.Error("classification failed after retries, using sentinel scores",
		"retries", maxRetries,
		"error", lastErr,
	)
	return sentinelResult()
}

func (c *Client) scoreOnce(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(scoreRequest{
		Model:       req.Model,
		Input:       req.Text,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal score request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("scoring service returned HTTP %d: %s", resp.StatusCode, respBody)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Result{}, fmt.Errorf("decode score response: %w", err)
	}

	if !validScore(sr.ImportanceScore) || !validScore(sr.SpamScore) {
		return Result{}, fmt.Errorf("scores out of range: importance=%d spam=%d", sr.ImportanceScore, sr.SpamScore)
	}

	return Result{
		ImportanceScore: sr.ImportanceScore,
		SpamScore:       sr.SpamScore,
		Labels:          sr.Labels,
	}, nil
}

func validScore(s int) bool {
	return s >= 0 && s <= 10
}
