// Package cart checks a proposed cart against the live catalog and prices it
// from catalog data only.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
)

var ErrEmptyCart = errors.New("cart contains no items")

type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ItemID)
}

func (e *ItemNotFoundError) Unwrap() error {
	return catalog.ErrItemNotFound
}

type InsufficientStockError struct {
	ItemID    string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

type InvalidQuantityError struct {
	ItemID   string
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for item %s", e.Quantity, e.ItemID)
}

// ItemReader is the read-only catalog access the validator needs.
type ItemReader interface {
	GetItem(ctx context.Context, id string) (*catalog.Item, error)
}

type Request struct {
	ItemID   string
	Quantity int
}

type ValidatedCart struct {
	Lines []order.LineItem
	Total decimal.Decimal
}

type Validator struct {
	items ItemReader
}

func NewValidator(items ItemReader) *Validator {
	return &Validator{items: items}
}

// Validate prices every requested item at its current catalog price and
// checks it against current stock. It has no side effects; the stock check is
// advisory until settlement.
//
// Lines for the same item are merged in first-seen order before checking.
func (v *Validator) Validate(ctx context.Context, requested []Request) (*ValidatedCart, error) {
	merged, err := merge(requested)
	if err != nil {
		return nil, err
	}

	lines := make([]order.LineItem, 0, len(merged))
	for _, req := range merged {
		item, err := v.items.GetItem(ctx, req.ItemID)
		if err != nil {
			if errors.Is(err, catalog.ErrItemNotFound) {
				return nil, &ItemNotFoundError{ItemID: req.ItemID}
			}
			return nil, fmt.Errorf("cart: failed to read item %s: %w", req.ItemID, err)
		}

		if req.Quantity > item.Stock {
			return nil, &InsufficientStockError{ItemID: req.ItemID, Available: item.Stock, Requested: req.Quantity}
		}

		lines = append(lines, order.LineItem{
			ProductRef:        item.ID,
			Title:             item.Title,
			Quantity:          req.Quantity,
			UnitPriceSnapshot: item.Price,
		})
	}

	return &ValidatedCart{Lines: lines, Total: order.SumLineItems(lines)}, nil
}

func merge(requested []Request) ([]Request, error) {
	if len(requested) == 0 {
		return nil, ErrEmptyCart
	}

	index := make(map[string]int, len(requested))
	merged := make([]Request, 0, len(requested))
	for _, req := range requested {
		if req.Quantity < 1 {
			return nil, &InvalidQuantityError{ItemID: req.ItemID, Quantity: req.Quantity}
		}
		if i, ok := index[req.ItemID]; ok {
			// Saturate instead of wrapping; no stock level reaches MaxInt.
			if req.Quantity > math.MaxInt-merged[i].Quantity {
				merged[i].Quantity = math.MaxInt
			} else {
				merged[i].Quantity += req.Quantity
			}
			continue
		}
		index[req.ItemID] = len(merged)
		merged = append(merged, req)
	}
	return merged, nil
}
