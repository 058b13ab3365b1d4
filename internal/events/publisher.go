package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/items"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("nats publisher closed")

// Publisher sends item events to the configured subject. The connection is
// opened on first use and reopened if it has been lost.
type Publisher struct {
	url          string
	subject      string
	flushTimeout time.Duration
	dial         dialer

	mu     sync.Mutex
	nc     conn
	closed bool
}

// NewPublisher constructs a Publisher. No connection is made until Connect
// or the first Publish.
func NewPublisher(cfg config.NATSConfig) *Publisher {
	return &Publisher{
		url:          cfg.URL,
		subject:      cfg.Subject,
		flushTimeout: cfg.FlushTimeout,
		dial:         dialNATS,
	}
}

// Connect opens the connection if it is not already up.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.connectLocked(ctx)
	return err
}

func (p *Publisher) connectLocked(ctx context.Context) (conn, error) {
	if p.closed {
		return nil, ErrPublisherClosed
	}
	if p.nc != nil && p.nc.IsConnected() {
		return p.nc, nil
	}
	if p.nc != nil {
		p.nc.Close()
		p.nc = nil
	}

	nc, err := p.dial(p.url, "currency-parser-publisher")
	if err != nil {
		return nil, err
	}
	p.nc = nc
	slog.InfoContext(ctx, "nats publisher connected", "url", p.url, "subject", p.subject)
	return nc, nil
}

// Publish encodes ev as JSON, publishes it and waits up to the flush timeout
// for the server to acknowledge.
func (p *Publisher) Publish(ctx context.Context, ev items.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	nc, err := p.connectLocked(ctx)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	injectTrace(ctx, msg)

	if err := nc.PublishMsg(msg); err != nil {
		slog.ErrorContext(ctx, "nats publish failed", "subject", p.subject, "err", err)
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	if p.flushTimeout <= 0 {
		return nil
	}
	if err := nc.FlushTimeout(p.flushTimeout); err != nil {
		slog.ErrorContext(ctx, "nats flush failed", "subject", p.subject, "err", err)
		return fmt.Errorf("flushing %s: %w", p.subject, err)
	}
	return nil
}

// Notify implements items.Notifier.
func (p *Publisher) Notify(ctx context.Context, ev items.Event) error {
	return p.Publish(ctx, ev)
}

// Close drains pending messages and closes the connection. Idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.nc == nil {
		return nil
	}
	// Drain closes the connection once pending messages are flushed.
	var err error
	if p.nc.IsConnected() {
		err = p.nc.Drain()
	} else {
		p.nc.Close()
	}
	p.nc = nil
	slog.Info("nats publisher closed")
	return err
}
