// Package events publishes workshop domain events. Publishing is best effort:
// callers log failures and never fail the request because of them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	OrderCreated       Type = "order.created"
	OrderUpdated       Type = "order.updated"
	OrderStatusChanged Type = "order.status_changed"
	OrderDeleted       Type = "order.deleted"
	PaymentRecorded    Type = "payment.recorded"
	PaymentVoided      Type = "payment.voided"
	PartLowStock       Type = "part.low_stock"
)

type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	// Key groups related events on the same partition, e.g. "orden-12".
	Key     string `json:"key"`
	Payload any    `json:"payload"`
}

func New(eventType Type, key string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Key:        key,
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error {
	return nil
}
