// Package poller periodically pulls market quotes from the rate sources and
// feeds them into the item service.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Rzhvms/CurrencyParser/internal/items"
)

const instrumentationName = "currency-parser/poller"

// FiatSource is satisfied by *sources.CBRClient.
type FiatSource interface {
	Fetch(ctx context.Context, day time.Time) (map[string]items.Quote, error)
}

// CryptoSource is satisfied by *sources.BinanceClient.
type CryptoSource interface {
	Fetch(ctx context.Context, usdRub float64) (map[string]items.Quote, error)
}

// QuoteSink is satisfied by *items.Service.
type QuoteSink interface {
	ApplyQuote(ctx context.Context, q items.Quote) (items.Change, error)
}

// Summary counts what a single run did.
type Summary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Poller runs fetch-and-apply cycles, either on demand through RunOnce or on a
// fixed interval after Start. Runs never overlap.
type Poller struct {
	fiat        FiatSource
	crypto      CryptoSource
	sink        QuoteSink
	interval    time.Duration
	fallbackUSD float64
	now         func() time.Time

	runMu sync.Mutex

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	runs     metric.Int64Counter
	changed  metric.Int64Counter
	duration metric.Float64Histogram
}

// New constructs a Poller. fallbackUSD is the USD/RUB rate used to price
// crypto when the fiat source has no USD quote.
func New(fiat FiatSource, crypto CryptoSource, sink QuoteSink, interval time.Duration, fallbackUSD float64) *Poller {
	meter := otel.Meter(instrumentationName)

	// Instrument errors leave the field nil; finish skips nil instruments.
	runs, err := meter.Int64Counter("parser.poll.runs", metric.WithDescription("Completed poll runs"))
	if err != nil {
		slog.Warn("poll runs counter unavailable", "err", err)
	}
	changed, err := meter.Int64Counter("parser.poll.items_changed", metric.WithDescription("Items created or updated by polling"))
	if err != nil {
		slog.Warn("poll changes counter unavailable", "err", err)
	}
	duration, err := meter.Float64Histogram("parser.poll.duration", metric.WithUnit("s"))
	if err != nil {
		slog.Warn("poll duration histogram unavailable", "err", err)
	}

	return &Poller{
		fiat:        fiat,
		crypto:      crypto,
		sink:        sink,
		interval:    interval,
		fallbackUSD: fallbackUSD,
		now:         func() time.Time { return time.Now().UTC() },
		runs:        runs,
		changed:     changed,
		duration:    duration,
	}
}

// RunOnce performs one full cycle. Source failures are logged and the cycle
// proceeds with whatever was fetched. An error is returned only when ctx is
// done or every quote failed to apply.
func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "parser.poll")
	defer span.End()

	fiat, err := p.fiat.Fetch(ctx, p.now())
	if err != nil {
		slog.WarnContext(ctx, "fiat source degraded", "err", err)
	}

	usd := p.fallbackUSD
	if q, ok := fiat["USD"]; ok && q.Rate > 0 {
		usd = q.Rate
	}

	crypto, err := p.crypto.Fetch(ctx, usd)
	if err != nil {
		slog.WarnContext(ctx, "crypto source degraded", "err", err)
	}

	combined := make(map[string]items.Quote, len(fiat)+len(crypto))
	for code, q := range fiat {
		combined[code] = q
	}
	for code, q := range crypto {
		combined[code] = q
	}

	currencies := make([]string, 0, len(combined))
	for code := range combined {
		currencies = append(currencies, code)
	}
	sort.Strings(currencies)

	var sum Summary
	var errs []error
	for _, code := range currencies {
		if err := ctx.Err(); err != nil {
			return sum, p.finish(ctx, span, start, sum, err)
		}
		change, err := p.sink.ApplyQuote(ctx, combined[code])
		if err != nil {
			sum.Failed++
			errs = append(errs, err)
			slog.WarnContext(ctx, "applying quote failed", "currency", code, "err", err)
			continue
		}
		switch change {
		case items.ChangeCreated:
			sum.Created++
		case items.ChangeUpdated:
			sum.Updated++
		default:
			sum.Unchanged++
		}
	}

	var runErr error
	if len(currencies) > 0 && sum.Failed == len(currencies) {
		runErr = fmt.Errorf("all %d quotes failed: %w", len(currencies), errors.Join(errs...))
	}
	return sum, p.finish(ctx, span, start, sum, runErr)
}

func (p *Poller) finish(ctx context.Context, span trace.Span, start time.Time, sum Summary, err error) error {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))

	if p.runs != nil {
		p.runs.Add(ctx, 1, attrs)
	}
	if p.changed != nil {
		p.changed.Add(ctx, int64(sum.Created+sum.Updated))
	}
	if p.duration != nil {
		p.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}

	span.SetAttributes(
		attribute.Int("poll.created", sum.Created),
		attribute.Int("poll.updated", sum.Updated),
		attribute.Int("poll.failed", sum.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	slog.InfoContext(ctx, "poll completed",
		"created", sum.Created, "updated", sum.Updated,
		"unchanged", sum.Unchanged, "failed", sum.Failed)
	return nil
}

// Start launches the background loop: run, then wait one interval, until
// Stop is called or ctx is done. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()

	if p.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		// Runs before close(done). The loop may end on the parent ctx with no
		// Stop call, and a later Start must be able to launch a new one.
		defer func() {
			p.loopMu.Lock()
			if p.done == done {
				p.cancel, p.done = nil, nil
			}
			p.loopMu.Unlock()
			cancel()
		}()
		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "poll run failed", "err", err)
			}
			timer.Reset(p.interval)
		}
	}()
}

// Stop cancels the loop and waits for the in-flight run to return.
func (p *Poller) Stop() {
	p.loopMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
