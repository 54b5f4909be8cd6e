// Package account guards the synchronization engine: nothing talks to the
// network until the device is registered, initialized, and not suspended.
package account

import "context"

// Gate answers the registration questions the sync engine asks before every
// exchange and performs authentication recovery when the account is
// suspended.
type Gate interface {
	IsInitialized() bool
	IsRegistered() bool
	IsSuspended() bool
	// MarkSuspended records a server-side suspension signal, such as a
	// credential the network keeps rejecting, so the next gate check routes
	// through Authenticate.
	MarkSuspended()
	// Authenticate obtains a fresh credential; on success the account is no
	// longer suspended.
	Authenticate(ctx context.Context) error
}
