package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Rzhvms/CurrencyParser/internal/api"
	"github.com/Rzhvms/CurrencyParser/internal/clients"
	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/events"
	"github.com/Rzhvms/CurrencyParser/internal/items"
	"github.com/Rzhvms/CurrencyParser/internal/orchestrator"
	"github.com/Rzhvms/CurrencyParser/internal/poller"
	"github.com/Rzhvms/CurrencyParser/internal/sources"
	"github.com/Rzhvms/CurrencyParser/internal/store"
	"github.com/Rzhvms/CurrencyParser/internal/telemetry"
	"github.com/Rzhvms/CurrencyParser/internal/ws"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE and referenced by
// server.go, bootstrap.go and poll.go.
type AppContext struct {
	cfg          *config.Config
	origin       string
	otelProvider *telemetry.Provider
	store        items.Store
	redis        *redis.Client
	hub          *ws.Hub
	publisher    *events.Publisher
	subscriber   *events.Subscriber
	items        *items.Service
	poller       *poller.Poller
	orchestrator *orchestrator.Orchestrator
	router       *api.Router
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal) and tees logs to it
//  2. Opens the item store
//  3. Creates the event fan-out: WebSocket hub and NATS publisher/subscriber
//  4. Creates the rate sources and the poller
//  5. Creates the infrastructure probes and the orchestrator
//  6. Creates the HTTP router
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg, origin: uuid.NewString()}

	// OTEL is best-effort: a missing collector must never block startup.
	tp, err := telemetry.InitProvider(ctx, cfg.Telemetry, version)
	if err != nil {
		slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		tp = &telemetry.Provider{}
	}
	if tp.Enabled() {
		// stdout keeps its JSON lines; the OTEL log pipeline gets a copy.
		slog.SetDefault(slog.New(telemetry.NewTeeHandler(slog.Default().Handler(), tp.LogHandler)))
	} else {
		slog.Info("OTEL export disabled (no endpoint configured)")
	}
	app.otelProvider = tp

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}
	app.store = st

	app.hub = ws.NewHub(cfg.WebSocket)
	notifiers := []items.Notifier{app.hub}
	if cfg.NATS.URL != "" {
		app.publisher = events.NewPublisher(cfg.NATS)
		notifiers = append(notifiers, app.publisher)
	}
	app.items = items.NewService(st, cfg.Poller.CryptoCodes, app.origin, notifiers...)
	if cfg.NATS.URL != "" && cfg.NATS.Subscribe {
		app.subscriber = events.NewSubscriber(cfg.NATS, app.origin, app.items, app.hub)
	}

	var cache sources.Cache
	if cfg.Redis.Host != "" {
		app.redis = clients.NewRedis(cfg.Redis)
		cache = sources.NewRedisCache(app.redis)
	}

	httpClient := sources.NewHTTPClient(cfg.Poller.RequestTimeout)
	cbr := sources.NewCBRClient(httpClient, cfg.Poller.CBRURL, cfg.Poller.UserAgent, cfg.Poller.CBRPlatform,
		cfg.Poller.Currencies, clients.NewCircuitBreaker("cbr"), cache, cfg.Poller.CacheTTL)
	binance := sources.NewBinanceClient(httpClient, cfg.Poller.BinanceURL, cfg.Poller.UserAgent, cfg.Poller.CryptoPlatform,
		cfg.Poller.CryptoCodes, clients.NewCircuitBreaker("binance"))
	app.poller = poller.New(cbr, binance, app.items, cfg.Poller.Interval, cfg.Poller.FallbackUSDRate)

	// One circuit breaker per client so each dependency trips independently.
	var deps orchestrator.Deps
	if pg, ok := st.(*store.PostgresStore); ok {
		deps.Migrator = pg
		deps.Database = clients.NewPostgresClient(cfg.Database, clients.NewCircuitBreaker("postgres"))
	}
	if cfg.NATS.URL != "" {
		deps.NATS = clients.NewNATSClient(cfg.NATS, clients.NewCircuitBreaker("nats"))
	}
	if app.redis != nil {
		deps.Redis = clients.NewRedisClient(app.redis, clients.NewCircuitBreaker("redis"))
	}
	app.orchestrator = orchestrator.New(deps)

	app.router = api.NewRouter(api.Deps{
		Items:        app.items,
		Poller:       app.poller,
		Orchestrator: app.orchestrator,
		Hub:          app.hub,
		ServiceName:  cfg.Telemetry.ServiceName,
	})

	slog.Info("app context built",
		"origin", app.origin,
		"store", cfg.Database.Driver,
		"nats", cfg.NATS.URL != "",
		"redis", app.redis != nil,
	)
	return app, nil
}

// Close releases everything in dependency order: poller, subscriber,
// publisher, hub, store, cache, telemetry. Errors are joined.
func (a *AppContext) Close(ctx context.Context) error {
	var errs []error

	a.poller.Stop()
	if a.subscriber != nil {
		if err := a.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing nats subscriber: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing nats publisher: %w", err))
		}
	}
	if err := a.hub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing websocket hub: %w", err))
	}
	a.store.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}

	shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.otelProvider.Shutdown(shutCtx); err != nil {
		errs = append(errs, fmt.Errorf("OTEL shutdown: %w", err))
	}

	return errors.Join(errs...)
}
