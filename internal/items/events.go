package items

import "context"

// EventType names a change to an item.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is the envelope pushed to WebSocket clients and published on NATS.
// Deleted events carry only ID. Origin identifies the emitting instance.
type Event struct {
	Type   EventType `json:"type"`
	Item   *Item     `json:"item,omitempty"`
	ID     int64     `json:"id,omitempty"`
	Origin string    `json:"origin,omitempty"`
}

// Notifier receives item events. The WebSocket hub and the NATS publisher
// both satisfy it.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Mirror is an item snapshot received from another instance. Only Currency is
// mandatory; nil fields keep the stored value, or the zero default on create.
type Mirror struct {
	Currency       string   `json:"currency"`
	Rate           *float64 `json:"rate,omitempty"`
	Amount         *int     `json:"amount,omitempty"`
	Platform       *string  `json:"platform,omitempty"`
	CryptoCurrency *bool    `json:"crypto_currency,omitempty"`
}
