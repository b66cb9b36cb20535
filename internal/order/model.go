package order

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

func (s Status) String() string {
	return string(s)
}

// allowedTransitions is the full status DAG. Anything not listed here is
// rejected by the ledger.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaid:      true,
		StatusRejected:  true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusRefunded: true,
	},
	StatusRejected:  {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is an edge of the status DAG.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// LineItem is one purchased product with its price frozen at checkout time.
type LineItem struct {
	ProductRef        string          `json:"product_ref" db:"product_ref"`
	Title             string          `json:"title" db:"title"`
	Quantity          int             `json:"quantity" db:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// Subtotal is Quantity × UnitPriceSnapshot.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Order struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	ExternalReference string          `json:"external_reference" db:"external_reference"`
	Status            Status          `json:"status" db:"status"`
	LineItems         []LineItem      `json:"line_items" db:"-"`
	Total             decimal.Decimal `json:"total" db:"total"`
	ContactEmail      string          `json:"contact_email" db:"contact_email"`
	ShippingAddress   json.RawMessage `json:"shipping_address,omitempty" db:"shipping_address"`
	CustomerID        string          `json:"customer_id,omitempty" db:"customer_id"`
	PaymentProviderID *string         `json:"payment_provider_id,omitempty" db:"payment_provider_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers cannot reach into stored state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.LineItems = append([]LineItem(nil), o.LineItems...)
	if o.ShippingAddress != nil {
		c.ShippingAddress = append(json.RawMessage(nil), o.ShippingAddress...)
	}
	if o.PaymentProviderID != nil {
		id := *o.PaymentProviderID
		c.PaymentProviderID = &id
	}
	return &c
}

// Contact is the pass-through customer data attached to an order.
type Contact struct {
	Email           string
	ShippingAddress json.RawMessage
	CustomerID      string
}

// SumLineItems returns Σ quantity × unit price.
func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Subtotal())
	}
	return total
}
