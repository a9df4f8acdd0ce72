// Package cache provides a read-through cache over derived-state query
// results (§5), grounded on the pack's redis/go-redis/v9 SetCache/
// GetCache pattern (evalgo-org-eve/db/repository/redis.go). It is
// strictly an optimization: every cache error is logged and swallowed,
// falling back to direct recomputation from Truth, and every entry is
// keyed on the flow's truth version so a stale hit is impossible by
// construction.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ActionableTasks is a read-through cache for one flow's actionable-task
// set, keyed by (flowId, truthVersion). truthVersion is a monotonic
// per-flow counter the caller bumps on every recordOutcome/startTask/
// evidence write; the kernel's own purity guarantees a cache hit is
// exactly the same computation's output, never a stale substitute.
type ActionableTasks struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New builds an ActionableTasks cache backed by a Redis instance at
// addr. ttl bounds how long an entry survives even if never invalidated
// (defends against a caller forgetting to bump truthVersion).
func New(addr string, ttl time.Duration, logger *slog.Logger) (*ActionableTasks, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis address: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionableTasks{client: redis.NewClient(opts), ttl: ttl, logger: logger}, nil
}

func cacheKey(flowID uuid.UUID, truthVersion int64) string {
	return fmt.Sprintf("actionable:%s:%d", flowID, truthVersion)
}

// Get decodes the cached value for (flowID, truthVersion) into out and
// returns true on a hit. A cache error, decode error or miss returns
// false — callers always fall back to computing fresh from Truth then.
func (c *ActionableTasks) Get(ctx context.Context, flowID uuid.UUID, truthVersion int64, out any) bool {
	data, err := c.client.Get(ctx, cacheKey(flowID, truthVersion)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "actionable task cache get failed", "error", err, "flowId", flowID)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.WarnContext(ctx, "actionable task cache decode failed", "error", err, "flowId", flowID)
		return false
	}
	return true
}

// Put stores value for (flowID, truthVersion). Failures are logged and
// swallowed — a write that never lands just means the next Get misses.
func (c *ActionableTasks) Put(ctx context.Context, flowID uuid.UUID, truthVersion int64, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WarnContext(ctx, "actionable task cache encode failed", "error", err, "flowId", flowID)
		return
	}
	if err := c.client.Set(ctx, cacheKey(flowID, truthVersion), data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "actionable task cache put failed", "error", err, "flowId", flowID)
	}
}

// Close releases the underlying Redis connection pool.
func (c *ActionableTasks) Close() error {
	return c.client.Close()
}
