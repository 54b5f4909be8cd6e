// Package store provides the durable outbound notification queue. Queued
// notifications represent user-initiated actions, so implementations other
// than the in-memory one must survive a process restart.
package store

import (
	"context"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

// Queue is the outbound notification queue consumed by the synchronization
// engine. Implementations must tolerate concurrent enqueue and removal;
// removal is always by ID set, never positional.
type Queue interface {
	Enqueue(ctx context.Context, n notification.Outbound) error
	EnqueueBatch(ctx context.Context, ns []notification.Outbound) error
	RemoveByIDs(ctx context.Context, ids []string) error
	ListAll(ctx context.Context) ([]notification.Outbound, error)
	HasPending(ctx context.Context) (bool, error)
}
