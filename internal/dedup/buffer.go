// Package dedup suppresses redelivered inbound notifications. The network
// delivers at-least-once; this converts it to effectively-once processing on
// the client within a bounded recent window.
package dedup

import (
	"context"
	"sync"
)

// Store answers whether an inbound notification ID was already processed.
// The first sighting of an ID records it and returns false.
type Store interface {
	ShouldIgnore(ctx context.Context, id string) bool
}

// Capacity is the number of recently-seen IDs the in-memory buffer retains.
const Capacity = 100

// Buffer is a fixed-capacity FIFO of recently-seen notification IDs. It is
// in-memory only: dedup does not survive a process restart, which is a known
// limitation of the protocol, not something to paper over here.
type Buffer struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func NewBuffer() *Buffer {
	return &Buffer{seen: make(map[string]struct{}, Capacity)}
}

// ShouldIgnore reports true when id was already processed. Otherwise it
// records id, evicting the oldest entry once the buffer is full.
func (b *Buffer) ShouldIgnore(_ context.Context, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return true
	}
	if len(b.order) >= Capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.seen, oldest)
	}
	b.seen[id] = struct{}{}
	b.order = append(b.order, id)
	return false
}

// Len reports the number of IDs currently tracked.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
