package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rzhvms/CurrencyParser/internal/config"
	"github.com/Rzhvms/CurrencyParser/internal/items"
)

func TestMemoryStore_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	usd := &items.Item{Currency: "USD", Rate: 90.5, Amount: 1, Platform: "CBR"}
	require.NoError(t, s.Create(ctx, usd))
	assert.Equal(t, int64(1), usd.ID)

	eur := &items.Item{Currency: "EUR", Rate: 99, Amount: 1, Platform: "CBR"}
	require.NoError(t, s.Create(ctx, eur))
	assert.Equal(t, int64(2), eur.ID)

	got, err := s.GetByCurrency(ctx, "EUR")
	require.NoError(t, err)
	assert.Equal(t, eur.ID, got.ID)

	got.Rate = 101
	require.NoError(t, s.Update(ctx, got))

	reread, err := s.Get(ctx, eur.ID)
	require.NoError(t, err)
	assert.InDelta(t, 101.0, reread.Rate, 1e-9)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "USD", list[0].Currency)
	assert.Equal(t, "EUR", list[1].Currency)

	require.NoError(t, s.Delete(ctx, usd.ID))
	_, err = s.Get(ctx, usd.ID)
	assert.ErrorIs(t, err, items.ErrNotFound)

	// Deleted ids are never reused.
	cny := &items.Item{Currency: "CNY", Rate: 12, Amount: 1, Platform: "CBR"}
	require.NoError(t, s.Create(ctx, cny))
	assert.Equal(t, int64(3), cny.ID)
}

func TestMemoryStore_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, &items.Item{Currency: "USD"}))

	assert.ErrorIs(t, s.Create(ctx, &items.Item{Currency: "USD"}), items.ErrConflict)
	assert.ErrorIs(t, s.Update(ctx, &items.Item{ID: 42}), items.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, 42), items.ErrNotFound)

	_, err := s.GetByCurrency(ctx, "BTC")
	assert.ErrorIs(t, err, items.ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	it := &items.Item{Currency: "USD", Rate: 1}
	require.NoError(t, s.Create(ctx, it))

	it.Rate = 500
	got, err := s.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Rate, 1e-9)
}

func TestOpen_Memory(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), config.DatabaseConfig{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite"})
	assert.ErrorContains(t, err, "unknown database driver")
}
