// Package channel provides the transports performing one notification
// exchange: a REST polling channel and a persistent websocket push channel.
// Both share one logical contract and are selected primary/fallback by the
// synchronization manager, never used together for the same data.
package channel

import (
	"context"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

// Result is the server's answer to one exchange.
type Result struct {
	Inbound []notification.Inbound
	// MoreAvailable signals the server has further notifications paged back.
	MoreAvailable bool
	// FailedOutboundIDs lists outbound notifications the server rejected
	// individually while accepting the batch.
	FailedOutboundIDs []string
}

// Channel performs one round trip: deliver the outbound batch, collect
// whatever the server has pending. There is no deadline at this layer; the
// caller bounds the call through ctx and the underlying transport.
type Channel interface {
	Exchange(ctx context.Context, outbound []notification.Outbound) (*Result, error)
	// Available reports whether the channel can currently attempt an
	// exchange (e.g. the push channel is connected).
	Available() bool
	// Name identifies the channel in logs and metrics.
	Name() string
}

// wire types shared by the REST and push transports.

type syncRequest struct {
	ClientNotifications []notification.Outbound `json:"clientNotifications"`
	IsBackground        bool                    `json:"isBackground"`
}

type syncResponse struct {
	ServerNotifications         []notification.Inbound `json:"serverNotifications"`
	MoreNotificationsAvailable  bool                   `json:"moreNotificationsAvailable"`
	FailedClientNotificationIDs []string               `json:"failedClientNotificationIds,omitempty"`
}

func (r *syncResponse) toResult() *Result {
	return &Result{
		Inbound:           r.ServerNotifications,
		MoreAvailable:     r.MoreNotificationsAvailable,
		FailedOutboundIDs: r.FailedClientNotificationIDs,
	}
}
