package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
)

func TestDecrement(t *testing.T) {
	tests := []struct {
		name     string
		before   int
		amount   int
		expected catalog.StockChange
	}{
		{
			name:     "enough_stock",
			before:   10,
			amount:   2,
			expected: catalog.StockChange{ItemID: "sku-1", Before: 10, After: 8},
		},
		{
			name:     "exact_stock",
			before:   3,
			amount:   3,
			expected: catalog.StockChange{ItemID: "sku-1", Before: 3, After: 0},
		},
		{
			name:     "oversell_clamped",
			before:   1,
			amount:   4,
			expected: catalog.StockChange{ItemID: "sku-1", Before: 1, After: 0, Shortfall: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := catalog.Decrement("sku-1", tt.before, tt.amount)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.expected.Shortfall > 0, got.Oversold())
		})
	}
}
