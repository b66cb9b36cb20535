package order

import (
	"context"

	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
)

// Store is the storage surface settlement is allowed to touch: catalog reads,
// stock decrements and order persistence. Nothing else.
type Store interface {
	GetItem(ctx context.Context, id string) (*catalog.Item, error)
	DecrementStock(ctx context.Context, id string, amount int) (catalog.StockChange, error)
	// GetOrder looks an order up by external reference. Inside Atomic it
	// also locks the order until fn returns.
	GetOrder(ctx context.Context, ref string) (*Order, error)
	// SaveOrder inserts a new order or persists the mutable fields (status,
	// payment provider id, updated_at) of an existing one.
	SaveOrder(ctx context.Context, o *Order) error

	// Atomic runs fn against a view of the store in which every call commits
	// or rolls back together.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
