// Package settlement turns verified payment notifications into order status
// transitions.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/notify"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/webhook"
)

// statusTable maps provider payment statuses to order statuses. Anything not
// listed leaves the order where it is.
var statusTable = map[string]order.Status{
	"approved":  order.StatusPaid,
	"rejected":  order.StatusRejected,
	"cancelled": order.StatusCancelled,
	"refunded":  order.StatusRefunded,
}

// MapPaymentStatus returns the order status for a provider status, if any.
func MapPaymentStatus(providerStatus string) (order.Status, bool) {
	s, ok := statusTable[providerStatus]
	return s, ok
}

type Ledger interface {
	Transition(ctx context.Context, ref string, target order.Status, effect order.Effect) (*order.Order, error)
}

type PaymentReader interface {
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
}

type Reconciler struct {
	ledger        Ledger
	payments      PaymentReader
	notifier      notify.Notifier
	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

func NewReconciler(ledger Ledger, payments PaymentReader, notifier notify.Notifier, notifyTimeout time.Duration) *Reconciler {
	if notifyTimeout <= 0 {
		notifyTimeout = 30 * time.Second
	}
	return &Reconciler{
		ledger:        ledger,
		payments:      payments,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
	}
}

// Reconcile applies one verified notification. Logical mismatches (unknown
// order, illegal transition, unmapped status) are logged and swallowed since a
// provider retry cannot fix them. A returned error means the notification
// could not be processed at all, e.g. the provider lookup failed.
func (r *Reconciler) Reconcile(ctx context.Context, n *webhook.Notification) error {
	if n.Type != webhook.TypePayment {
		log.Debug().Str("type", n.Type).Str("notification_id", n.ID).Msg("reconciler: ignoring non-payment notification")
		return nil
	}
	if n.PaymentID == "" {
		log.Warn().Str("anomaly", "missing_payment_id").Str("notification_id", n.ID).Msg("reconciler: payment notification without payment id")
		return nil
	}

	p, err := r.payments.GetPayment(ctx, n.PaymentID)
	if err != nil {
		return fmt.Errorf("reconciler: failed to fetch payment %s: %w", n.PaymentID, err)
	}

	logger := log.With().
		Str("payment_id", p.ID).
		Str("payment_status", p.Status).
		Str("external_reference", p.ExternalReference).
		Logger()

	target, ok := MapPaymentStatus(p.Status)
	if !ok {
		logger.Info().Msg("reconciler: payment status has no order transition, leaving order as is")
		return nil
	}
	if p.ExternalReference == "" {
		logger.Warn().Str("anomaly", "missing_external_reference").Msg("reconciler: payment carries no external reference")
		return nil
	}

	applied := false
	effect := func(ctx context.Context, tx order.Store, o *order.Order) error {
		id := p.ID
		o.PaymentProviderID = &id
		if target == order.StatusPaid {
			if err := decrementStock(ctx, tx, o); err != nil {
				return err
			}
		}
		applied = true
		return nil
	}

	o, err := r.ledger.Transition(ctx, p.ExternalReference, target, effect)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		logger.Warn().Str("anomaly", "order_not_found").Msg("reconciler: no order for payment notification")
		return nil
	case errors.Is(err, order.ErrIllegalTransition):
		logger.Warn().Err(err).Str("anomaly", "illegal_transition").Msg("reconciler: payment status conflicts with order status")
		return nil
	case err != nil:
		return fmt.Errorf("reconciler: failed to settle order %s: %w", p.ExternalReference, err)
	}

	if applied && target == order.StatusPaid {
		r.sendConfirmation(ctx, o)
	}
	return nil
}

// Wait blocks until all in-flight confirmations have finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func decrementStock(ctx context.Context, tx order.Store, o *order.Order) error {
	for _, li := range o.LineItems {
		change, err := tx.DecrementStock(ctx, li.ProductRef, li.Quantity)
		if errors.Is(err, catalog.ErrItemNotFound) {
			log.Warn().
				Str("anomaly", "item_missing").
				Str("external_reference", o.ExternalReference).
				Str("item_id", li.ProductRef).
				Msg("reconciler: paid order references an item no longer in the catalog")
			continue
		}
		if err != nil {
			return fmt.Errorf("decrement stock for %s: %w", li.ProductRef, err)
		}
		if change.Oversold() {
			log.Warn().
				Str("anomaly", "oversell").
				Str("external_reference", o.ExternalReference).
				Str("item_id", li.ProductRef).
				Int("stock_before", change.Before).
				Int("requested", li.Quantity).
				Int("shortfall", change.Shortfall).
				Msg("reconciler: stock would go negative, clamped at zero")
		}
	}
	return nil
}

// sendConfirmation runs outside the settlement transaction and outlives the
// webhook request.
func (r *Reconciler) sendConfirmation(ctx context.Context, o *order.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		if err := r.notifier.OrderConfirmed(ctx, o); err != nil {
			log.Error().Err(err).Str("external_reference", o.ExternalReference).Msg("reconciler: failed to send order confirmation")
			return
		}
		log.Info().Str("external_reference", o.ExternalReference).Msg("reconciler: order confirmation sent")
	}()
}
