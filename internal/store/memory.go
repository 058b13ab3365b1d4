package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Rzhvms/CurrencyParser/internal/items"
)

// MemoryStore keeps items in process memory. IDs are assigned from a counter
// that never reuses a deleted id.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]items.Item
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]items.Item)}
}

func (m *MemoryStore) List(_ context.Context) ([]items.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]items.Item, 0, len(m.byID))
	for _, it := range m.byID {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*items.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.byID[id]
	if !ok {
		return nil, items.ErrNotFound
	}
	return &it, nil
}

func (m *MemoryStore) GetByCurrency(_ context.Context, currency string) (*items.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, it := range m.byID {
		if it.Currency == currency {
			return &it, nil
		}
	}
	return nil, items.ErrNotFound
}

func (m *MemoryStore) Create(_ context.Context, it *items.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byID {
		if existing.Currency == it.Currency {
			return items.ErrConflict
		}
	}
	m.nextID++
	it.ID = m.nextID
	m.byID[it.ID] = *it
	return nil
}

func (m *MemoryStore) Update(_ context.Context, it *items.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[it.ID]; !ok {
		return items.ErrNotFound
	}
	m.byID[it.ID] = *it
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return items.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() {}
