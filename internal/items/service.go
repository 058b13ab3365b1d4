package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// rateEpsilon is the smallest rate difference treated as a change.
const rateEpsilon = 1e-9

// Change describes what ApplyQuote or Sync did to the stored item.
type Change string

const (
	ChangeCreated   Change = "created"
	ChangeUpdated   Change = "updated"
	ChangeUnchanged Change = "unchanged"
)

// Service implements item CRUD and quote ingestion on top of a Store. Every
// mutation is announced to the configured notifiers; a failing notifier is
// logged and never fails the mutation.
type Service struct {
	store     Store
	notifiers []Notifier
	crypto    map[string]struct{}
	origin    string
	now       func() time.Time
}

// NewService builds a Service. cryptoCodes decides the crypto_currency flag of
// quote-driven items, origin is stamped on every emitted event.
func NewService(store Store, cryptoCodes []string, origin string, notifiers ...Notifier) *Service {
	crypto := make(map[string]struct{}, len(cryptoCodes))
	for _, c := range cryptoCodes {
		crypto[c] = struct{}{}
	}
	return &Service{
		store:     store,
		notifiers: notifiers,
		crypto:    crypto,
		origin:    origin,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddNotifier registers another event sink.
func (s *Service) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// Origin returns the instance identifier stamped on emitted events.
func (s *Service) Origin() string { return s.origin }

func (s *Service) List(ctx context.Context) ([]Item, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (*Item, error) {
	return s.store.Get(ctx, id)
}

// Create validates req and inserts a new item. It fails with ErrConflict when
// the currency is already stored.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Item, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.store.GetByCurrency(ctx, req.Currency); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("looking up %s: %w", req.Currency, err)
	}

	it := &Item{
		Currency:        req.Currency,
		Rate:            req.Rate,
		Amount:          *req.Amount,
		Platform:        req.Platform,
		CryptoCurrency:  req.CryptoCurrency,
		LastUpdatedTime: s.now(),
	}
	if err := s.store.Create(ctx, it); err != nil {
		return nil, err
	}

	s.emit(ctx, Event{Type: EventCreated, Item: it})
	return it, nil
}

// Update applies a partial update. A request that is empty or matches the
// stored values returns the item untouched, without a write or an event.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Item, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	it, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Empty() || !req.apply(it) {
		return it, nil
	}

	it.LastUpdatedTime = s.now()
	if err := s.store.Update(ctx, it); err != nil {
		return nil, err
	}

	s.emit(ctx, Event{Type: EventUpdated, Item: it})
	return it, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, Event{Type: EventDeleted, ID: id})
	return nil
}

// IsCrypto reports whether currency is one of the configured crypto codes.
func (s *Service) IsCrypto(currency string) bool {
	_, ok := s.crypto[currency]
	return ok
}

// ApplyQuote upserts the item for q.Currency. A rate within rateEpsilon of the
// stored one leaves the item and its timestamp untouched.
func (s *Service) ApplyQuote(ctx context.Context, q Quote) (Change, error) {
	amount := q.Amount
	if amount < 1 {
		amount = 1
	}

	existing, err := s.store.GetByCurrency(ctx, q.Currency)
	switch {
	case errors.Is(err, ErrNotFound):
		it := &Item{
			Currency:        q.Currency,
			Rate:            q.Rate,
			Amount:          amount,
			Platform:        q.Platform,
			CryptoCurrency:  s.IsCrypto(q.Currency),
			LastUpdatedTime: s.now(),
		}
		if err := s.store.Create(ctx, it); err != nil {
			return "", fmt.Errorf("creating %s: %w", q.Currency, err)
		}
		s.emit(ctx, Event{Type: EventCreated, Item: it})
		return ChangeCreated, nil
	case err != nil:
		return "", fmt.Errorf("looking up %s: %w", q.Currency, err)
	}

	if math.Abs(existing.Rate-q.Rate) < rateEpsilon {
		return ChangeUnchanged, nil
	}

	existing.Rate = q.Rate
	existing.Amount = amount
	if q.Platform != "" {
		existing.Platform = q.Platform
	}
	existing.CryptoCurrency = s.IsCrypto(q.Currency)
	existing.LastUpdatedTime = s.now()

	if err := s.store.Update(ctx, existing); err != nil {
		return "", fmt.Errorf("updating %s: %w", q.Currency, err)
	}
	s.emit(ctx, Event{Type: EventUpdated, Item: existing})
	return ChangeUpdated, nil
}

// Sync stores a snapshot received from another instance. Nothing is emitted:
// the caller forwards the original event to local clients.
func (s *Service) Sync(ctx context.Context, m Mirror) (*Item, Change, error) {
	code, err := NormalizeCurrency(m.Currency)
	if err != nil {
		return nil, "", err
	}

	existing, err := s.store.GetByCurrency(ctx, code)
	switch {
	case errors.Is(err, ErrNotFound):
		it := &Item{Currency: code, Amount: 1, LastUpdatedTime: s.now()}
		mirrorOnto(m, it)
		if err := s.store.Create(ctx, it); err != nil {
			return nil, "", fmt.Errorf("creating %s: %w", code, err)
		}
		return it, ChangeCreated, nil
	case err != nil:
		return nil, "", fmt.Errorf("looking up %s: %w", code, err)
	}

	mirrorOnto(m, existing)
	existing.LastUpdatedTime = s.now()
	if err := s.store.Update(ctx, existing); err != nil {
		return nil, "", fmt.Errorf("updating %s: %w", code, err)
	}
	return existing, ChangeUpdated, nil
}

func mirrorOnto(m Mirror, it *Item) {
	if m.Rate != nil {
		it.Rate = *m.Rate
	}
	if m.Amount != nil {
		it.Amount = *m.Amount
	}
	if m.Platform != nil {
		it.Platform = *m.Platform
	}
	if m.CryptoCurrency != nil {
		it.CryptoCurrency = *m.CryptoCurrency
	}
}

func (s *Service) emit(ctx context.Context, ev Event) {
	ev.Origin = s.origin
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			slog.WarnContext(ctx, "item event delivery failed", "type", ev.Type, "err", err)
		}
	}
}
