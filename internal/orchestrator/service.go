package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ErrBootstrapInProgress is returned when RunBootstrap is called while a
// bootstrap is already running.
var ErrBootstrapInProgress = errors.New("bootstrap already in progress")

// Phase and probe names.
const (
	PhaseDatabase = "database"
	PhaseNATS     = "nats"
	PhaseRedis    = "redis"
)

// Migrator is satisfied by *store.PostgresStore.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Prober is satisfied by the clients package probes.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

// StreamProvisioner is satisfied by *clients.NATSClient.
type StreamProvisioner interface {
	ProvisionStream(ctx context.Context) error
	Prober
}

// Deps lists the infrastructure the orchestrator manages. A nil field marks
// a dependency that is not in use (for example the in-memory store has no
// Migrator), and its phase is reported as skipped.
type Deps struct {
	Migrator Migrator
	Database Prober
	NATS     StreamProvisioner
	Redis    Prober
}

// Orchestrator runs bootstrap phases and health probes.
type Orchestrator struct {
	deps Deps

	bootstrapInProgress atomic.Bool
	lastResult          *BootstrapResult
	resultMu            sync.RWMutex
}

// New constructs an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

type phase struct {
	name string
	run  func(ctx context.Context) PhaseResult
}

func (o *Orchestrator) phases() []phase {
	return []phase{
		{PhaseDatabase, func(ctx context.Context) PhaseResult {
			if o.deps.Migrator == nil {
				return skipped(PhaseDatabase)
			}
			return provisionToPhase(PhaseDatabase, o.deps.Migrator.Migrate(ctx))
		}},
		{PhaseNATS, func(ctx context.Context) PhaseResult {
			if o.deps.NATS == nil {
				return skipped(PhaseNATS)
			}
			return provisionToPhase(PhaseNATS, o.deps.NATS.ProvisionStream(ctx))
		}},
		{PhaseRedis, func(ctx context.Context) PhaseResult {
			if o.deps.Redis == nil {
				return skipped(PhaseRedis)
			}
			return probeToPhase(PhaseRedis, o.deps.Redis.Probe(ctx))
		}},
	}
}

// RunBootstrap runs every phase concurrently: apply database migrations,
// provision the events stream and check the cache. A phase failure is
// recorded in the result but does not cancel the other phases.
func (o *Orchestrator) RunBootstrap(ctx context.Context) (*BootstrapResult, error) {
	if !o.bootstrapInProgress.CompareAndSwap(false, true) {
		return nil, ErrBootstrapInProgress
	}
	defer o.bootstrapInProgress.Store(false)

	result := &BootstrapResult{
		Status: StatusInProgress,
		Phases: make(map[string]PhaseResult),
	}

	ctx, span := otel.Tracer("currency-parser/orchestrator").Start(ctx, "parser.bootstrap")
	defer span.End()

	slog.InfoContext(ctx, "bootstrap started")

	// Plain errgroup: a failed phase must not cancel its siblings.
	var g errgroup.Group
	for _, p := range o.phases() {
		g.Go(func() error {
			res := p.run(ctx)
			logPhase(ctx, res)
			result.Lock()
			result.Phases[p.name] = res
			result.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.Status = StatusOK
	for _, p := range result.Phases {
		if p.Status == StatusError {
			result.Status = StatusError
			break
		}
	}

	span.SetAttributes(attribute.String("bootstrap.status", result.Status))
	if result.Status == StatusError {
		span.SetStatus(codes.Error, "one or more bootstrap phases failed")
		slog.WarnContext(ctx, "bootstrap completed with errors", "status", result.Status)
	} else {
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "bootstrap completed", "status", result.Status)
	}

	o.resultMu.Lock()
	o.lastResult = result
	o.resultMu.Unlock()

	return result, nil
}

// RunDeepHealth probes every configured dependency concurrently. Dependencies
// that are not in use are left out of the map.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	probers := map[string]Prober{}
	if o.deps.Database != nil {
		probers[PhaseDatabase] = o.deps.Database
	}
	if o.deps.NATS != nil {
		probers[PhaseNATS] = o.deps.NATS
	}
	if o.deps.Redis != nil {
		probers[PhaseRedis] = o.deps.Redis
	}

	results := make(map[string]ProbeResult, len(probers))
	var mu sync.Mutex
	var g errgroup.Group
	for name, p := range probers {
		g.Go(func() error {
			res := p.Probe(ctx)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// IsBootstrapInProgress returns true while a bootstrap run is active.
func (o *Orchestrator) IsBootstrapInProgress() bool {
	return o.bootstrapInProgress.Load()
}

// IsReady returns true if the last bootstrap completed with StatusOK.
func (o *Orchestrator) IsReady() bool {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult != nil && o.lastResult.Status == StatusOK
}

// LastResult returns the most recent bootstrap result, or nil.
func (o *Orchestrator) LastResult() *BootstrapResult {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult
}

func logPhase(ctx context.Context, p PhaseResult) {
	switch p.Status {
	case StatusOK:
		slog.InfoContext(ctx, "bootstrap phase ok", "phase", p.Name)
	case StatusSkipped:
		slog.InfoContext(ctx, "bootstrap phase skipped", "phase", p.Name)
	default:
		slog.WarnContext(ctx, "bootstrap phase failed", "phase", p.Name, "error", p.Error)
	}
}

func skipped(name string) PhaseResult {
	return PhaseResult{Name: name, Status: StatusSkipped}
}

func probeToPhase(name string, p ProbeResult) PhaseResult {
	if p.OK {
		return PhaseResult{Name: name, Status: StatusOK}
	}
	return PhaseResult{Name: name, Status: StatusError, Error: p.Error}
}

func provisionToPhase(name string, err error) PhaseResult {
	if err == nil {
		return PhaseResult{Name: name, Status: StatusOK}
	}
	return PhaseResult{Name: name, Status: StatusError, Error: err.Error()}
}
