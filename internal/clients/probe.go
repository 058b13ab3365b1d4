package clients

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Rzhvms/CurrencyParser/internal/orchestrator"
)

// probeThrough runs check inside cb and converts the outcome to a
// ProbeResult. An open breaker is reported as "circuit open".
func probeThrough(ctx context.Context, name string, cb *gobreaker.CircuitBreaker, check func(ctx context.Context) error) orchestrator.ProbeResult {
	start := time.Now()

	_, err := cb.Execute(func() (any, error) {
		return nil, check(ctx)
	})

	res := orchestrator.ProbeResult{
		Name:      name,
		OK:        err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			res.Error = "circuit open"
		}
	}
	return res
}
