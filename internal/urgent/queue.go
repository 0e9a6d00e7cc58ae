// Package urgent implements the low-latency urgent task queue, drained in
// small batches ahead of the normal per-agent queues.
package urgent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Item is the compact record pushed for an urgent task.
type Item struct {
	AgentID  string `json:"agent_id"`
	TaskID   string `json:"task_id"`
	Priority string `json:"priority"`
}

// Queue is the urgent queue contract. PopBatch returns at most n items,
// fewer (or none) when the queue is short.
type Queue interface {
	Push(ctx context.Context, item Item) error
	PopBatch(ctx context.Context, n int) ([]Item, error)
	Len(ctx context.Context) (int, error)
}

// RedisQueue is a Redis-list-backed Queue. Items are JSON-encoded on a
// single list key so multiple orchestrator restarts share the backlog.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue constructs a Redis-backed queue. prefix defaults to
// "boardroom:".
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "boardroom:"
	}
	return &RedisQueue{client: client, key: prefix + "urgent"}
}

var _ Queue = (*RedisQueue)(nil)

// Push appends an item to the queue (LPUSH).
func (q *RedisQueue) Push(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode urgent item: %w", err)
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// PopBatch pops up to n items (RPOP with count), oldest first.
func (q *RedisQueue) PopBatch(ctx context.Context, n int) ([]Item, error) {
	values, err := q.client.RPopCount(ctx, q.key, n).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(values))
	for _, v := range values {
		var item Item
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			return items, fmt.Errorf("failed to decode urgent item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Len returns the queue depth (LLEN).
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
