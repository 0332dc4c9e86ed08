package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueSizeTTL = 5 * time.Minute

// QueueCache keeps per-user queue sizes in Redis. It is strictly
// best-effort: the synchronizer refreshes it after each reconciliation and
// the stats endpoint falls back to a database count on a miss.
type QueueCache struct {
	client *redis.Client
}

// NewQueueCache wraps a redis client. A nil client disables the cache.
func NewQueueCache(client *redis.Client) *QueueCache {
	return &QueueCache{client: client}
}

func queueSizeKey(userID string) string {
	return fmt.Sprintf("queue:size:%s", userID)
}

// SetSize stores the user's queue size.
func (c *QueueCache) SetSize(ctx context.Context, userID string, size int) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, queueSizeKey(userID), size, queueSizeTTL).Err()
}

// GetSize returns the cached queue size, or found=false on a miss.
func (c *QueueCache) GetSize(ctx context.Context, userID string) (int, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	val, err := c.client.Get(ctx, queueSizeKey(userID)).Result()
	if err != nil {
		return 0, false
	}
	size, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return size, true
}

// Invalidate drops the cached size for a user.
func (c *QueueCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, queueSizeKey(userID)).Err()
}
