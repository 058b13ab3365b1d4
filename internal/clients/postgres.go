package clients

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/orchestrator"
)

const postgresProbeName = "postgres"

// dbPinger abstracts the pgxpool.Pool methods used in Probe so that tests
// can inject a fake without standing up a real database.
type dbPinger interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresClient probes the items database through a circuit breaker.
type PostgresClient struct {
	cfg     config.DatabaseConfig
	cb      *gobreaker.CircuitBreaker
	connect func(ctx context.Context, cfg config.DatabaseConfig) (dbPinger, error)
}

// NewPostgresClient creates a PostgresClient. A short-lived pool is opened
// for each probe; nothing is dialled at construction time.
func NewPostgresClient(cfg config.DatabaseConfig, cb *gobreaker.CircuitBreaker) *PostgresClient {
	return &PostgresClient{
		cfg:     cfg,
		cb:      cb,
		connect: realConnect,
	}
}

// Probe pings Postgres and checks that migrations have been applied, i.e.
// the schema_migrations table exists.
func (c *PostgresClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	return probeThrough(ctx, postgresProbeName, c.cb, func(ctx context.Context) error {
		pool, err := c.connect(ctx, c.cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}

		var exists int
		row := pool.QueryRow(ctx,
			"SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'schema_migrations'",
		)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("schema_migrations table not found: %w", err)
		}
		return nil
	})
}

func realConnect(ctx context.Context, cfg config.DatabaseConfig) (dbPinger, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	poolCfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	return pool, nil
}
