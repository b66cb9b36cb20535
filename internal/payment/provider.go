// Package payment talks to the external payment provider. Provider-specific
// field names live in adapters such as payment/mercadopago; everything above
// this package works with the types declared here.
package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Provider is the narrow surface settlement needs from a payment provider.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

type LineItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
	Currency  string
}

// BackURLs are where the provider sends the shopper after a payment attempt.
// They are UX redirects only and prove nothing about payment.
type BackURLs struct {
	Success string `yaml:"success" env:"PAYMENT_SUCCESS_URL"`
	Failure string `yaml:"failure" env:"PAYMENT_FAILURE_URL"`
	Pending string `yaml:"pending" env:"PAYMENT_PENDING_URL"`
}

type SessionRequest struct {
	ExternalReference string
	Items             []LineItem
	PayerEmail        string
	BackURLs          BackURLs
	NotificationURL   string
}

type Session struct {
	ID          string
	RedirectURL string
}

// Payment is the provider's view of a payment. Status is the raw provider
// status string; mapping it to an order status is settlement's job.
type Payment struct {
	ID                string
	Status            string
	ExternalReference string
}

// ProviderError wraps any failure talking to the provider. The order it was
// about is left untouched, so the call can be retried.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
