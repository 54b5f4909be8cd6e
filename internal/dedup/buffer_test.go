package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestBuffer_FirstSightingIsProcessed(t *testing.T) {
	b := NewBuffer()
	ctx := context.Background()

	if b.ShouldIgnore(ctx, "n-1") {
		t.Fatal("first sighting of n-1 was ignored")
	}
	if !b.ShouldIgnore(ctx, "n-1") {
		t.Fatal("second sighting of n-1 was not ignored")
	}
	if b.ShouldIgnore(ctx, "n-2") {
		t.Fatal("unrelated id n-2 was ignored")
	}
}

func TestBuffer_EvictsOldestAtCapacity(t *testing.T) {
	b := NewBuffer()
	ctx := context.Background()

	b.ShouldIgnore(ctx, "oldest")
	for i := 0; i < Capacity; i++ {
		b.ShouldIgnore(ctx, fmt.Sprintf("filler-%d", i))
	}

	if b.Len() != Capacity {
		t.Fatalf("Len() = %d, want %d", b.Len(), Capacity)
	}
	// "oldest" was pushed out, so it reads as new again.
	if b.ShouldIgnore(ctx, "oldest") {
		t.Error("evicted id was still ignored")
	}
	// The most recent filler must still be tracked.
	if !b.ShouldIgnore(ctx, fmt.Sprintf("filler-%d", Capacity-1)) {
		t.Error("recent id was forgotten")
	}
}

func TestBuffer_ConcurrentAccess(t *testing.T) {
	b := NewBuffer()
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.ShouldIgnore(ctx, fmt.Sprintf("g%d-n%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	if b.Len() != Capacity {
		t.Errorf("Len() = %d after churn, want %d", b.Len(), Capacity)
	}
}
