package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category partitions notifications into content and protocol traffic.
type Category string

const (
	// CategoryCustom covers content notifications; the routable type lives
	// in the payload's customType field.
	CategoryCustom Category = "Custom"
	// CategoryDonky covers protocol/system notifications; the outer type
	// field is the routable type.
	CategoryDonky Category = "Donky"
)

// typeCustom is the outer type value marking a content notification.
const typeCustom = "Custom"

// AckResult reports the delivery outcome carried in an acknowledgement.
type AckResult string

const (
	ResultNone                    AckResult = "NoResult"
	ResultDelivered               AckResult = "Delivered"
	ResultDeliveredNoSubscription AckResult = "DeliveredNoSubscription"
	ResultFailed                  AckResult = "Failed"
	ResultRejected                AckResult = "Rejected"
)

// TypeAcknowledgement is the outbound type of auto-generated acknowledgements.
const TypeAcknowledgement = "Acknowledgement"

// Inbound is a server-to-client notification.
type Inbound struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedOn time.Time       `json:"createdOn"`
	Data      json.RawMessage `json:"data"`
}

// Category derives the routing category from the outer type.
func (n *Inbound) Category() Category {
	if n.Type == typeCustom {
		return CategoryCustom
	}
	return CategoryDonky
}

// BaseType resolves the type used for routing and dedup decisions: the
// payload's customType for content notifications, the outer type otherwise.
func (n *Inbound) BaseType() (string, error) {
	if n.Category() == CategoryDonky {
		return n.Type, nil
	}
	var payload struct {
		CustomType string `json:"customType"`
	}
	if err := json.Unmarshal(n.Data, &payload); err != nil {
		return "", fmt.Errorf("parse custom notification payload: %w", err)
	}
	if payload.CustomType == "" {
		return "", fmt.Errorf("custom notification %s has no customType", n.ID)
	}
	return payload.CustomType, nil
}

// AcknowledgementDetail confirms receipt of one inbound notification.
type AcknowledgementDetail struct {
	ServerNotificationID   string    `json:"serverNotificationId"`
	Result                 AckResult `json:"result"`
	SentTime               time.Time `json:"sentTime"`
	OriginalType           string    `json:"type"`
	CustomNotificationType string    `json:"customNotificationType,omitempty"`
}

// Outbound is a client-to-server notification. It is persisted to the durable
// queue at creation and removed only after the round trip carrying it settles.
type Outbound struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Data     json.RawMessage        `json:"data"`
	Ack      *AcknowledgementDetail `json:"acknowledgementDetail,omitempty"`
	QueuedAt time.Time              `json:"queuedAt"`
}

// NewOutbound creates an outbound notification with a fresh identity.
func NewOutbound(notificationType string, data json.RawMessage) Outbound {
	return Outbound{
		ID:       uuid.New().String(),
		Type:     notificationType,
		Data:     data,
		QueuedAt: time.Now().UTC(),
	}
}

// NewAcknowledgement builds the outbound acknowledgement for an inbound
// notification. baseType carries the resolved custom type for content
// notifications and is empty for protocol ones.
func NewAcknowledgement(in *Inbound, baseType string, result AckResult) Outbound {
	detail := &AcknowledgementDetail{
		ServerNotificationID: in.ID,
		Result:               result,
		SentTime:             time.Now().UTC(),
		OriginalType:         in.Type,
	}
	if in.Category() == CategoryCustom {
		detail.CustomNotificationType = baseType
	}
	out := NewOutbound(TypeAcknowledgement, nil)
	out.Ack = detail
	return out
}
