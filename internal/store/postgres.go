package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/items"
)

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate key.
const uniqueViolation = "23505"

const itemColumns = "id, currency, rate, amount, platform, crypto_currency, last_updated_time"

// querier abstracts the pgxpool.Pool methods used by PostgresStore so that
// tests can inject a fake without standing up a real database.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore persists items in the items table through a pgx pool.
type PostgresStore struct {
	db querier
}

// NewPostgresStore builds a pgx pool for cfg. The pool dials lazily, so an
// unreachable database surfaces on first use (migration, probes, queries)
// rather than here.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]items.Item, error) {
	rows, err := s.db.Query(ctx, "SELECT "+itemColumns+" FROM items ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (items.Item, error) {
		var it items.Item
		err := scanItem(row, &it)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning items: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*items.Item, error) {
	var it items.Item
	row := s.db.QueryRow(ctx, "SELECT "+itemColumns+" FROM items WHERE id = $1", id)
	if err := scanItem(row, &it); err != nil {
		return nil, mapError(err)
	}
	return &it, nil
}

func (s *PostgresStore) GetByCurrency(ctx context.Context, currency string) (*items.Item, error) {
	var it items.Item
	row := s.db.QueryRow(ctx, "SELECT "+itemColumns+" FROM items WHERE currency = $1", currency)
	if err := scanItem(row, &it); err != nil {
		return nil, mapError(err)
	}
	return &it, nil
}

func (s *PostgresStore) Create(ctx context.Context, it *items.Item) error {
	row := s.db.QueryRow(ctx,
		`INSERT INTO items (currency, rate, amount, platform, crypto_currency, last_updated_time)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		it.Currency, it.Rate, it.Amount, it.Platform, it.CryptoCurrency, it.LastUpdatedTime,
	)
	if err := row.Scan(&it.ID); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, it *items.Item) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE items
		    SET rate = $2, amount = $3, platform = $4, crypto_currency = $5, last_updated_time = $6
		  WHERE id = $1`,
		it.ID, it.Rate, it.Amount, it.Platform, it.CryptoCurrency, it.LastUpdatedTime,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return items.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM items WHERE id = $1", id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return items.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func scanItem(row pgx.Row, it *items.Item) error {
	return row.Scan(
		&it.ID, &it.Currency, &it.Rate, &it.Amount,
		&it.Platform, &it.CryptoCurrency, &it.LastUpdatedTime,
	)
}

// mapError translates pgx errors into the items sentinel errors.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return items.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return items.ErrConflict
	}
	return err
}
