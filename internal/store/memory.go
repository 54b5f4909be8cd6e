package store

import (
	"context"
	"sync"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

// MemoryQueue is a non-durable Queue for tests and throwaway sessions.
type MemoryQueue struct {
	mu    sync.Mutex
	items []notification.Outbound
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, n notification.Outbound) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	return nil
}

func (q *MemoryQueue) EnqueueBatch(_ context.Context, ns []notification.Outbound) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, ns...)
	return nil
}

func (q *MemoryQueue) RemoveByIDs(_ context.Context, ids []string) error {
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, n := range q.items {
		if _, ok := remove[n.ID]; !ok {
			kept = append(kept, n)
		}
	}
	q.items = kept
	return nil
}

func (q *MemoryQueue) ListAll(_ context.Context) ([]notification.Outbound, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]notification.Outbound, len(q.items))
	copy(out, q.items)
	return out, nil
}

func (q *MemoryQueue) HasPending(_ context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0, nil
}
