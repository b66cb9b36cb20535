package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
)

// refStore only records saved references and rejects the ones in taken.
type refStore struct {
	taken map[string]bool
	saved []string
}

func (s *refStore) GetItem(context.Context, string) (*catalog.Item, error) {
	return nil, catalog.ErrItemNotFound
}

func (s *refStore) DecrementStock(context.Context, string, int) (catalog.StockChange, error) {
	return catalog.StockChange{}, catalog.ErrItemNotFound
}

func (s *refStore) GetOrder(context.Context, string) (*Order, error) {
	return nil, ErrOrderNotFound
}

func (s *refStore) SaveOrder(_ context.Context, o *Order) error {
	if s.taken[o.ExternalReference] {
		return ErrDuplicateReference
	}
	s.saved = append(s.saved, o.ExternalReference)
	return nil
}

func (s *refStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, s)
}

func sequence(refs ...string) func() string {
	i := 0
	return func() string {
		ref := refs[i]
		i++
		return ref
	}
}

func TestLedger_Create_RetriesReferenceCollision(t *testing.T) {
	store := &refStore{taken: map[string]bool{"A": true}}
	ledger := NewLedger(store)
	ledger.newRef = sequence("A", "B")

	o, err := ledger.Create(context.Background(), []LineItem{{ProductRef: "sku-1", Quantity: 1, UnitPriceSnapshot: decimal.NewFromInt(5)}}, Contact{})
	require.NoError(t, err)
	assert.Equal(t, "B", o.ExternalReference)
	assert.Equal(t, []string{"B"}, store.saved)
}

func TestLedger_Create_GivesUpAfterAttempts(t *testing.T) {
	store := &refStore{taken: map[string]bool{"A": true}}
	ledger := NewLedger(store)
	ledger.newRef = func() string { return "A" }

	_, err := ledger.Create(context.Background(), []LineItem{{ProductRef: "sku-1", Quantity: 1, UnitPriceSnapshot: decimal.NewFromInt(5)}}, Contact{})
	assert.ErrorIs(t, err, ErrDuplicateReference)
	assert.Empty(t, store.saved)
}
