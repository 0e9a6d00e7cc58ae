package urgent

import (
	"context"
	"fmt"
	"testing"
)

func TestMemoryQueueBatching(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	for i := 0; i < 15; i++ {
		if err := q.Push(ctx, Item{AgentID: "cfo-1", TaskID: fmt.Sprintf("task-%d", i), Priority: "urgent"}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	batch, err := q.PopBatch(ctx, 10)
	if err != nil {
		t.Fatalf("PopBatch: %v", err)
	}
	if len(batch) != 10 {
		t.Fatalf("first batch = %d items, want 10", len(batch))
	}
	if batch[0].TaskID != "task-0" {
		t.Errorf("batch not oldest-first: %s", batch[0].TaskID)
	}

	remaining, err := q.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 5 {
		t.Errorf("Len = %d, want 5 left for the next tick", remaining)
	}

	batch, err = q.PopBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 5 {
		t.Errorf("second batch = %d items, want 5", len(batch))
	}

	batch, err = q.PopBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 0 {
		t.Errorf("empty queue returned %d items", len(batch))
	}
}
