package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrItemNotFound = errors.New("catalog item not found")

// Item is the part of a catalog record settlement cares about. Price is
// read-only here; Stock is only ever decremented by settlement.
type Item struct {
	ID    string          `json:"id" yaml:"id" db:"id"`
	Title string          `json:"title" yaml:"title" db:"title"`
	Price decimal.Decimal `json:"price" yaml:"price" db:"price"`
	Stock int             `json:"stock" yaml:"stock" db:"stock"`
}

// StockChange describes the outcome of a stock decrement.
type StockChange struct {
	ItemID    string
	Before    int
	After     int
	Shortfall int
}

// Oversold reports whether the decrement asked for more units than were left.
func (c StockChange) Oversold() bool {
	return c.Shortfall > 0
}

// Decrement takes amount units off before, never going below zero. Any units
// that could not be taken are reported as Shortfall.
func Decrement(itemID string, before, amount int) StockChange {
	change := StockChange{ItemID: itemID, Before: before, After: before - amount}
	if change.After < 0 {
		change.Shortfall = -change.After
		change.After = 0
	}
	return change
}
