package urgent

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue with the same batch semantics as the
// Redis implementation. Used in tests and single-node dev mode.
type MemoryQueue struct {
	mu    sync.Mutex
	items []Item
}

// NewMemoryQueue constructs an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Push(ctx context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *MemoryQueue) PopBatch(ctx context.Context, n int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil, nil
	}
	batch := make([]Item, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
