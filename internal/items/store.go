package items

import "context"

// Store persists items. Implementations return ErrNotFound for unknown ids or
// currencies and ErrConflict for a duplicate currency.
type Store interface {
	List(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, id int64) (*Item, error)
	GetByCurrency(ctx context.Context, currency string) (*Item, error)
	// Create inserts it and assigns it.ID.
	Create(ctx context.Context, it *Item) error
	// Update overwrites every mutable column of the row identified by it.ID.
	Update(ctx context.Context, it *Item) error
	Delete(ctx context.Context, id int64) error
	Close()
}
