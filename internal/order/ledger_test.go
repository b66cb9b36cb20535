package order_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/storage/memory"
)

func lines() []order.LineItem {
	return []order.LineItem{
		{ProductRef: "sku-1", Title: "Mug", Quantity: 2, UnitPriceSnapshot: decimal.NewFromInt(100)},
		{ProductRef: "sku-2", Title: "Cup", Quantity: 1, UnitPriceSnapshot: decimal.RequireFromString("7.50")},
	}
}

func createOrder(t *testing.T, ledger *order.Ledger) *order.Order {
	t.Helper()
	o, err := ledger.Create(context.Background(), lines(), order.Contact{Email: "buyer@example.com"})
	require.NoError(t, err)
	return o
}

func TestCanTransition(t *testing.T) {
	all := []order.Status{order.StatusPending, order.StatusPaid, order.StatusRejected, order.StatusCancelled, order.StatusRefunded}
	allowed := map[[2]order.Status]bool{
		{order.StatusPending, order.StatusPaid}:      true,
		{order.StatusPending, order.StatusRejected}:  true,
		{order.StatusPending, order.StatusCancelled}: true,
		{order.StatusPaid, order.StatusRefunded}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]order.Status{from, to}], order.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestLedger_Create(t *testing.T) {
	ledger := order.NewLedger(memory.New())

	o := createOrder(t, ledger)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.NotEmpty(t, o.ExternalReference)
	assert.True(t, decimal.RequireFromString("207.50").Equal(o.Total), "total %s", o.Total)
	assert.Nil(t, o.PaymentProviderID)
	assert.False(t, o.CreatedAt.IsZero())

	other := createOrder(t, ledger)
	assert.NotEqual(t, o.ExternalReference, other.ExternalReference)
	assert.NotEqual(t, o.ID, other.ID)
}

func TestLedger_Create_NoLines(t *testing.T) {
	_, err := order.NewLedger(memory.New()).Create(context.Background(), nil, order.Contact{})
	assert.ErrorIs(t, err, order.ErrNoLineItems)
}

func TestLedger_FindByExternalReference(t *testing.T) {
	ledger := order.NewLedger(memory.New())
	created := createOrder(t, ledger)

	found, err := ledger.FindByExternalReference(context.Background(), created.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = ledger.FindByExternalReference(context.Background(), "nope")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestLedger_Transition_RunsEffectOnce(t *testing.T) {
	ledger := order.NewLedger(memory.New())
	created := createOrder(t, ledger)

	var calls int
	effect := func(ctx context.Context, tx order.Store, o *order.Order) error {
		calls++
		return nil
	}

	for i := 0; i < 5; i++ {
		o, err := ledger.Transition(context.Background(), created.ExternalReference, order.StatusPaid, effect)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, o.Status)
	}
	assert.Equal(t, 1, calls)
}

func TestLedger_Transition_Concurrent(t *testing.T) {
	store := memory.New(catalog.Item{ID: "sku-1", Price: decimal.NewFromInt(100), Stock: 10})
	ledger := order.NewLedger(store)
	created := createOrder(t, ledger)

	var calls atomic.Int32
	effect := func(ctx context.Context, tx order.Store, o *order.Order) error {
		calls.Add(1)
		_, err := tx.DecrementStock(ctx, "sku-1", 2)
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Transition(context.Background(), created.ExternalReference, order.StatusPaid, effect)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	item, err := store.GetItem(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 8, item.Stock)
}

func TestLedger_Transition_Illegal(t *testing.T) {
	tests := []struct {
		name   string
		path   []order.Status
		target order.Status
	}{
		{name: "refunded_to_paid", path: []order.Status{order.StatusPaid, order.StatusRefunded}, target: order.StatusPaid},
		{name: "pending_to_refunded", path: nil, target: order.StatusRefunded},
		{name: "rejected_to_paid", path: []order.Status{order.StatusRejected}, target: order.StatusPaid},
		{name: "cancelled_to_paid", path: []order.Status{order.StatusCancelled}, target: order.StatusPaid},
		{name: "paid_to_pending", path: []order.Status{order.StatusPaid}, target: order.StatusPending},
		{name: "paid_to_cancelled", path: []order.Status{order.StatusPaid}, target: order.StatusCancelled},
		{name: "unknown_status", path: nil, target: order.Status("in_mediation")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := order.NewLedger(memory.New())
			created := createOrder(t, ledger)
			ctx := context.Background()

			for _, s := range tt.path {
				_, err := ledger.Transition(ctx, created.ExternalReference, s, nil)
				require.NoError(t, err)
			}
			before, err := ledger.FindByExternalReference(ctx, created.ExternalReference)
			require.NoError(t, err)

			effectRan := false
			_, err = ledger.Transition(ctx, created.ExternalReference, tt.target, func(ctx context.Context, tx order.Store, o *order.Order) error {
				effectRan = true
				return nil
			})
			assert.ErrorIs(t, err, order.ErrIllegalTransition)
			assert.False(t, effectRan)

			after, err := ledger.FindByExternalReference(ctx, created.ExternalReference)
			require.NoError(t, err)
			assert.Equal(t, before.Status, after.Status)
		})
	}
}

func TestLedger_Transition_NotFound(t *testing.T) {
	_, err := order.NewLedger(memory.New()).Transition(context.Background(), "missing", order.StatusPaid, nil)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestLedger_Transition_EffectFailureRollsBack(t *testing.T) {
	store := memory.New(catalog.Item{ID: "sku-1", Price: decimal.NewFromInt(100), Stock: 10})
	ledger := order.NewLedger(store)
	created := createOrder(t, ledger)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := ledger.Transition(ctx, created.ExternalReference, order.StatusPaid, func(ctx context.Context, tx order.Store, o *order.Order) error {
		if _, err := tx.DecrementStock(ctx, "sku-1", 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	o, err := ledger.FindByExternalReference(ctx, created.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)
	item, err := store.GetItem(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 10, item.Stock)
}

func TestLedger_Transition_EffectCannotRewriteSnapshot(t *testing.T) {
	ledger := order.NewLedger(memory.New())
	created := createOrder(t, ledger)
	ctx := context.Background()

	_, err := ledger.Transition(ctx, created.ExternalReference, order.StatusPaid, func(ctx context.Context, tx order.Store, o *order.Order) error {
		o.Total = decimal.NewFromInt(1)
		o.LineItems = nil
		return nil
	})
	require.NoError(t, err)

	o, err := ledger.FindByExternalReference(ctx, created.ExternalReference)
	require.NoError(t, err)
	assert.True(t, created.Total.Equal(o.Total))
	assert.Len(t, o.LineItems, 2)
}
