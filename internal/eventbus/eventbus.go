// Package eventbus publishes domain events about settled sales, returns
// and ledger problems to downstream consumers.
package eventbus

import (
	"context"
	"time"

	"pekseg/backend/internal/xid"
)

const (
	TopicSaleSettled     = "sale.settled"
	TopicReturnSettled   = "return.settled"
	TopicLedgerWarning   = "ledger.warning"
	TopicReconcileAlert  = "reconcile.alert"
	DefaultExchange      = "pekseg.events"
	defaultPublishWindow = 5 * time.Second
)

type Event struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	LocationID  string    `json:"location_id"`
	ReferenceID string    `json:"reference_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     any       `json:"payload,omitempty"`
}

func NewEvent(topic string, locationID string, referenceID string, payload any) Event {
	return Event{
		ID:          xid.New("evt"),
		Topic:       topic,
		LocationID:  locationID,
		ReferenceID: referenceID,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ Event) error {
	return nil
}
