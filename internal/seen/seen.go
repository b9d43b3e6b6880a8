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

// Package seen provides a best-effort Redis cache of processed message IDs.
// It supplements the keyword flag on the server: when a flag write failed or
// a force run rewrote history, the cache still remembers what this deployment
// already handled. Cache failures are never fatal to processing.
package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a processed message ID is remembered.
	DefaultTTL = 30 * 24 * time.Hour

	// keyPrefix namespaces seen keys in Redis.
	keyPrefix = "mailsift:seen:"
)

// Cache remembers processed message IDs per account.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache creates a seen cache backed by Redis.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb, ttl: DefaultTTL}
}

func key(account, messageID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, account, messageID)
}

// IsProcessed reports whether the message was already handled.
func (c *Cache) IsProcessed(ctx context.Context, account, messageID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key(account, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("seen EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed remembers a handled message for the cache TTL.
func (c *Cache) MarkProcessed(ctx context.Context, account, messageID string) error {
	if err := c.rdb.Set(ctx, key(account, messageID), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("seen SET: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
