// Package checkout runs the synchronous half of settlement: validate the cart,
// record a pending order, and open a payment session for it.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/payment"
)

var ErrOrderNotPending = errors.New("order is no longer pending")

type CartValidator interface {
	Validate(ctx context.Context, requested []cart.Request) (*cart.ValidatedCart, error)
}

type Ledger interface {
	Create(ctx context.Context, lines []order.LineItem, contact order.Contact) (*order.Order, error)
	FindByExternalReference(ctx context.Context, ref string) (*order.Order, error)
}

type SessionBroker interface {
	CreateSession(ctx context.Context, o *order.Order) (*payment.Session, error)
}

type Result struct {
	Order   *order.Order
	Session *payment.Session
}

type Service interface {
	Checkout(ctx context.Context, items []cart.Request, contact order.Contact) (*Result, error)
	RetrySession(ctx context.Context, ref string) (*Result, error)
	GetOrder(ctx context.Context, ref string) (*order.Order, error)
}

type service struct {
	validator CartValidator
	ledger    Ledger
	broker    SessionBroker
}

func NewService(validator CartValidator, ledger Ledger, broker SessionBroker) Service {
	return &service{
		validator: validator,
		ledger:    ledger,
		broker:    broker,
	}
}

// Checkout creates the order only after the cart validates. If the provider
// then fails, the order stays pending and Result.Order is still returned
// alongside the error so the caller can retry the session.
func (s *service) Checkout(ctx context.Context, items []cart.Request, contact order.Contact) (*Result, error) {
	validated, err := s.validator.Validate(ctx, items)
	if err != nil {
		log.Debug().Err(err).Msg("checkout: cart rejected")
		return nil, err
	}

	o, err := s.ledger.Create(ctx, validated.Lines, contact)
	if err != nil {
		return nil, fmt.Errorf("checkout: failed to create order: %w", err)
	}

	session, err := s.broker.CreateSession(ctx, o)
	if err != nil {
		return &Result{Order: o}, err
	}

	return &Result{Order: o, Session: session}, nil
}

func (s *service) RetrySession(ctx context.Context, ref string) (*Result, error) {
	o, err := s.ledger.FindByExternalReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPending {
		log.Warn().Str("external_reference", ref).Stringer("status", o.Status).Msg("checkout: session retry for settled order")
		return nil, fmt.Errorf("%w: status is %s", ErrOrderNotPending, o.Status)
	}

	session, err := s.broker.CreateSession(ctx, o)
	if err != nil {
		return &Result{Order: o}, err
	}
	return &Result{Order: o, Session: session}, nil
}

func (s *service) GetOrder(ctx context.Context, ref string) (*order.Order, error) {
	return s.ledger.FindByExternalReference(ctx, ref)
}
