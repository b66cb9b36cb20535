// Package memory is an in-process implementation of order.Store. A single
// mutex serialises writers; Atomic stages changes and applies them only when
// fn succeeds.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
)

type Store struct {
	mu     sync.Mutex
	items  map[string]catalog.Item
	orders map[string]*order.Order // keyed by external reference
	ids    map[string]string       // order id -> external reference
}

func New(items ...catalog.Item) *Store {
	s := &Store{
		items:  make(map[string]catalog.Item),
		orders: make(map[string]*order.Order),
		ids:    make(map[string]string),
	}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

// PutItem inserts or replaces a catalog item. Catalog maintenance is outside
// settlement; this exists for local runs and tests.
func (s *Store) PutItem(item catalog.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

func (s *Store) GetItem(ctx context.Context, id string) (*catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetItem(ctx, id)
}

func (s *Store) DecrementStock(ctx context.Context, id string, amount int) (catalog.StockChange, error) {
	var change catalog.StockChange
	err := s.Atomic(ctx, func(ctx context.Context, tx order.Store) error {
		var err error
		change, err = tx.DecrementStock(ctx, id, amount)
		return err
	})
	return change, err
}

func (s *Store) GetOrder(ctx context.Context, ref string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetOrder(ctx, ref)
}

func (s *Store) SaveOrder(ctx context.Context, o *order.Order) error {
	return s.Atomic(ctx, func(ctx context.Context, tx order.Store) error {
		return tx.SaveOrder(ctx, o)
	})
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx order.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := s.view()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) view() *txView {
	return &txView{
		s:      s,
		items:  make(map[string]catalog.Item),
		orders: make(map[string]*order.Order),
	}
}

// txView reads through to the store and buffers writes until commit. The
// store mutex is held for its whole lifetime.
type txView struct {
	s      *Store
	items  map[string]catalog.Item
	orders map[string]*order.Order
}

func (t *txView) GetItem(_ context.Context, id string) (*catalog.Item, error) {
	if it, ok := t.items[id]; ok {
		return &it, nil
	}
	it, ok := t.s.items[id]
	if !ok {
		return nil, catalog.ErrItemNotFound
	}
	return &it, nil
}

func (t *txView) DecrementStock(ctx context.Context, id string, amount int) (catalog.StockChange, error) {
	if amount < 0 {
		return catalog.StockChange{}, fmt.Errorf("memory: negative decrement %d for item %s", amount, id)
	}
	it, err := t.GetItem(ctx, id)
	if err != nil {
		return catalog.StockChange{}, err
	}
	change := catalog.Decrement(id, it.Stock, amount)
	it.Stock = change.After
	t.items[id] = *it
	return change, nil
}

func (t *txView) GetOrder(_ context.Context, ref string) (*order.Order, error) {
	if o, ok := t.orders[ref]; ok {
		return o.Clone(), nil
	}
	o, ok := t.s.orders[ref]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (t *txView) SaveOrder(_ context.Context, o *order.Order) error {
	existingRef, known := t.s.ids[o.ID.String()]
	if !known {
		for _, staged := range t.orders {
			if staged.ID == o.ID {
				existingRef, known = staged.ExternalReference, true
				break
			}
		}
	}

	if !known {
		if _, taken := t.s.orders[o.ExternalReference]; taken {
			return order.ErrDuplicateReference
		}
		if _, taken := t.orders[o.ExternalReference]; taken {
			return order.ErrDuplicateReference
		}
		t.orders[o.ExternalReference] = o.Clone()
		return nil
	}

	stored, err := t.GetOrder(context.Background(), existingRef)
	if err != nil {
		return err
	}
	// Only the mutable fields are taken from o; the snapshot stays as created.
	stored.Status = o.Status
	stored.UpdatedAt = o.UpdatedAt
	if o.PaymentProviderID != nil {
		id := *o.PaymentProviderID
		stored.PaymentProviderID = &id
	}
	t.orders[existingRef] = stored
	return nil
}

func (t *txView) Atomic(ctx context.Context, fn func(ctx context.Context, tx order.Store) error) error {
	return fn(ctx, t)
}

func (t *txView) commit() {
	for id, it := range t.items {
		t.s.items[id] = it
	}
	for ref, o := range t.orders {
		t.s.orders[ref] = o
		t.s.ids[o.ID.String()] = ref
	}
}
