package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/items"
)

// Syncer is satisfied by *items.Service.
type Syncer interface {
	Sync(ctx context.Context, m items.Mirror) (*items.Item, items.Change, error)
}

// envelope is the wire form of an event received from another instance. The
// item may be partial, so it decodes into a Mirror rather than an Item.
type envelope struct {
	Type   items.EventType `json:"type"`
	Item   *items.Mirror   `json:"item,omitempty"`
	ID     int64           `json:"id,omitempty"`
	Origin string          `json:"origin,omitempty"`
}

// Subscriber mirrors events published by other instances into the local store
// and forwards them to local listeners (the WebSocket hub).
type Subscriber struct {
	url     string
	subject string
	origin  string
	syncer  Syncer
	forward items.Notifier
	dial    dialer

	mu sync.Mutex
	nc conn
}

// NewSubscriber constructs a Subscriber. Events stamped with origin are the
// local instance's own and are ignored.
func NewSubscriber(cfg config.NATSConfig, origin string, syncer Syncer, forward items.Notifier) *Subscriber {
	return &Subscriber{
		url:     cfg.URL,
		subject: cfg.Subject,
		origin:  origin,
		syncer:  syncer,
		forward: forward,
		dial:    dialNATS,
	}
}

// Start connects and subscribes. Calling Start while subscribed is a no-op.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc != nil {
		if s.nc.IsConnected() {
			return nil
		}
		// A stale connection may still reconnect and deliver on its own
		// subscription, so it goes before the replacement is dialed.
		s.nc.Close()
		s.nc = nil
	}

	nc, err := s.dial(s.url, "currency-parser-subscriber")
	if err != nil {
		return err
	}
	if _, err := nc.Subscribe(s.subject, s.handle); err != nil {
		nc.Close()
		return err
	}
	s.nc = nc
	slog.InfoContext(ctx, "nats subscriber started", "url", s.url, "subject", s.subject)
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	ctx, span := otel.Tracer("currency-parser/events").Start(extractTrace(msg), "parser.events.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination.name", msg.Subject)))
	defer span.End()

	s.process(ctx, msg.Data)
}

func (s *Subscriber) process(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.WarnContext(ctx, "dropping undecodable nats event", "err", err)
		return
	}
	if env.Origin != "" && env.Origin == s.origin {
		return
	}

	out := items.Event{Type: env.Type, ID: env.ID, Origin: env.Origin}

	switch {
	case env.Type == items.EventDeleted:
		// IDs are local to each store; only listeners are told.
	case env.Item == nil || strings.TrimSpace(env.Item.Currency) == "":
		slog.DebugContext(ctx, "dropping nats event without currency", "type", env.Type)
		return
	default:
		it, change, err := s.syncer.Sync(ctx, *env.Item)
		if err != nil {
			var verr *items.ValidationError
			if errors.As(err, &verr) {
				slog.WarnContext(ctx, "dropping invalid nats event", "err", err)
			} else {
				slog.ErrorContext(ctx, "mirroring nats event failed", "currency", env.Item.Currency, "err", err)
			}
			return
		}
		slog.InfoContext(ctx, "item mirrored from nats", "currency", it.Currency, "change", change)
		out.Item = it
	}

	if s.forward == nil {
		return
	}
	if err := s.forward.Notify(ctx, out); err != nil {
		slog.WarnContext(ctx, "forwarding nats event failed", "type", out.Type, "err", err)
	}
}

// Close drains the subscription and closes the connection. Idempotent.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc == nil {
		return nil
	}
	var err error
	if s.nc.IsConnected() {
		err = s.nc.Drain()
	} else {
		s.nc.Close()
	}
	s.nc = nil
	slog.Info("nats subscriber closed")
	return err
}
