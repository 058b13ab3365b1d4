package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/orchestrator"
)

const (
	natsProbeName = "nats"
	streamMaxAge  = 24 * time.Hour
)

// jsContext is the subset of nats.JetStreamContext used in stream management.
type jsContext interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// NATSClient provisions the JetStream stream that retains item events and
// probes NATS connectivity.
type NATSClient struct {
	url      string
	stream   string
	subjects []string
	cb       *gobreaker.CircuitBreaker
	newJS    func(url string) (jsContext, func(), error)
}

// NewNATSClient constructs a NATSClient. Connections are opened per call.
func NewNATSClient(cfg config.NATSConfig, cb *gobreaker.CircuitBreaker) *NATSClient {
	return &NATSClient{
		url:      cfg.URL,
		stream:   cfg.Stream,
		subjects: streamSubjects(cfg.Subject),
		cb:       cb,
		newJS:    realNewJS,
	}
}

// streamSubjects widens the event subject to its root wildcard, so
// "items.updates" is retained under "items.>".
func streamSubjects(subject string) []string {
	root, _, found := strings.Cut(subject, ".")
	if !found || root == "" {
		return []string{subject}
	}
	return []string{root + ".>"}
}

// ProvisionStream creates the events stream or updates it in place. It is
// idempotent and runs inside the circuit breaker.
func (c *NATSClient) ProvisionStream(ctx context.Context) error {
	_, err := c.cb.Execute(func() (any, error) {
		js, cleanup, err := c.newJS(c.url)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		return nil, c.provision(js)
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("circuit open: %w", err)
	}
	return err
}

func (c *NATSClient) provision(js jsContext) error {
	cfg := &nats.StreamConfig{
		Name:      c.stream,
		Subjects:  c.subjects,
		Retention: nats.LimitsPolicy,
		MaxAge:    streamMaxAge,
	}

	_, err := js.StreamInfo(c.stream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := js.AddStream(cfg); err != nil {
			return fmt.Errorf("creating stream %s: %w", c.stream, err)
		}
	case err != nil:
		return fmt.Errorf("querying stream %s: %w", c.stream, err)
	default:
		if _, err := js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("updating stream %s: %w", c.stream, err)
		}
	}
	return nil
}

// Probe verifies NATS connectivity. A missing stream still counts as healthy.
func (c *NATSClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	return probeThrough(ctx, natsProbeName, c.cb, func(context.Context) error {
		js, cleanup, err := c.newJS(c.url)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		if _, err := js.StreamInfo(c.stream); err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("stream info: %w", err)
		}
		return nil
	})
}

// realNewJS opens a NATS connection and returns its JetStream context plus a
// cleanup that closes the connection.
func realNewJS(url string) (jsContext, func(), error) {
	nc, err := nats.Connect(url, nats.Name("currency-parser-admin"))
	if err != nil {
		return nil, func() {}, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, func() {}, fmt.Errorf("nats jetstream context: %w", err)
	}

	return js, func() { nc.Close() }, nil
}
