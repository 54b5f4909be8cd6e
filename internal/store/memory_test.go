package store

import (
	"context"
	"testing"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

func TestMemoryQueue_OrderAndRemoval(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	a := notification.NewOutbound("A", nil)
	b := notification.NewOutbound("B", nil)
	c := notification.NewOutbound("C", nil)
	d := notification.NewOutbound("D", nil)

	if err := q.Enqueue(ctx, a); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.EnqueueBatch(ctx, []notification.Outbound{b, c, d}); err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}

	all, err := q.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	wantOrder := []string{"A", "B", "C", "D"}
	if len(all) != len(wantOrder) {
		t.Fatalf("ListAll returned %d items, want %d", len(all), len(wantOrder))
	}
	for i, n := range all {
		if n.Type != wantOrder[i] {
			t.Errorf("item %d type = %q, want %q", i, n.Type, wantOrder[i])
		}
	}

	// Removing a subset by ID keeps everything else in place.
	if err := q.RemoveByIDs(ctx, []string{a.ID, c.ID, "never-queued"}); err != nil {
		t.Fatalf("RemoveByIDs failed: %v", err)
	}
	all, _ = q.ListAll(ctx)
	if len(all) != 2 || all[0].ID != b.ID || all[1].ID != d.ID {
		t.Fatalf("after removal got %d items, want exactly B then D", len(all))
	}
}

func TestMemoryQueue_HasPending(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	pending, err := q.HasPending(ctx)
	if err != nil {
		t.Fatalf("HasPending failed: %v", err)
	}
	if pending {
		t.Error("empty queue reported pending work")
	}

	n := notification.NewOutbound("A", nil)
	q.Enqueue(ctx, n)
	if pending, _ = q.HasPending(ctx); !pending {
		t.Error("non-empty queue reported no pending work")
	}

	q.RemoveByIDs(ctx, []string{n.ID})
	if pending, _ = q.HasPending(ctx); pending {
		t.Error("drained queue reported pending work")
	}
}

func TestMemoryQueue_ListAllReturnsCopy(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	q.Enqueue(ctx, notification.NewOutbound("A", nil))

	all, _ := q.ListAll(ctx)
	all[0].Type = "mutated"

	again, _ := q.ListAll(ctx)
	if again[0].Type != "A" {
		t.Error("ListAll leaked internal state to the caller")
	}
}
