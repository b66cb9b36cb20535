package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrIllegalTransition  = errors.New("illegal order status transition")
	ErrDuplicateReference = errors.New("external reference already in use")
	ErrNoLineItems        = errors.New("order must contain at least one line item")
)

const referenceAttempts = 3

// Effect runs inside a status transition, in the same atomic unit as the
// status write. It may only touch storage through tx.
type Effect func(ctx context.Context, tx Store, o *Order) error

// Ledger owns order records and is the only writer of order status.
type Ledger struct {
	store  Store
	newRef func() string
	now    func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		store:  store,
		newRef: NewExternalReference,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewExternalReference returns a ULID: time-ordered for operators, with 80
// random bits so concurrent checkouts do not collide.
func NewExternalReference() string {
	return ulid.Make().String()
}

// Create persists a pending order holding a copy of lines. The total is
// computed here once and never again.
func (l *Ledger) Create(ctx context.Context, lines []LineItem, contact Contact) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrNoLineItems
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to generate order id: %w", err)
	}

	now := l.now()
	o := &Order{
		ID:              id,
		Status:          StatusPending,
		LineItems:       append([]LineItem(nil), lines...),
		Total:           SumLineItems(lines),
		ContactEmail:    contact.Email,
		ShippingAddress: contact.ShippingAddress,
		CustomerID:      contact.CustomerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 1; ; attempt++ {
		o.ExternalReference = l.newRef()
		err = l.store.SaveOrder(ctx, o)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateReference) || attempt == referenceAttempts {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("ledger: failed to save new order")
			return nil, fmt.Errorf("ledger: failed to create order: %w", err)
		}
		log.Warn().Str("external_reference", o.ExternalReference).Int("attempt", attempt).Msg("ledger: external reference collision, regenerating")
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("external_reference", o.ExternalReference).
		Str("total", o.Total.String()).
		Msg("ledger: order created")

	return o.Clone(), nil
}

func (l *Ledger) FindByExternalReference(ctx context.Context, ref string) (*Order, error) {
	o, err := l.store.GetOrder(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("ledger: failed to fetch order %s: %w", ref, err)
	}
	return o, nil
}

// Transition moves the order identified by ref to target and runs effect, all
// in one atomic unit. If the order already has status target nothing is
// written and effect is not run, so redelivered events are harmless.
func (l *Ledger) Transition(ctx context.Context, ref string, target Status, effect Effect) (*Order, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown target status %q", ErrIllegalTransition, target)
	}

	var result *Order
	err := l.store.Atomic(ctx, func(ctx context.Context, tx Store) error {
		current, err := tx.GetOrder(ctx, ref)
		if err != nil {
			return err
		}

		if current.Status == target {
			log.Info().Str("external_reference", ref).Stringer("status", target).Msg("ledger: order already in target status, nothing to do")
			result = current
			return nil
		}

		if !CanTransition(current.Status, target) {
			log.Warn().
				Str("external_reference", ref).
				Stringer("current_status", current.Status).
				Stringer("new_status", target).
				Msg("ledger: illegal status transition attempt")
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, target)
		}

		previous := current.Status
		current.Status = target
		current.UpdatedAt = l.now()

		if effect != nil {
			if err := effect(ctx, tx, current); err != nil {
				return fmt.Errorf("ledger: transition effect failed: %w", err)
			}
		}

		if err := tx.SaveOrder(ctx, current); err != nil {
			return fmt.Errorf("ledger: failed to save order status: %w", err)
		}

		log.Info().
			Str("external_reference", ref).
			Stringer("old_status", previous).
			Stringer("new_status", target).
			Msg("ledger: order status updated")
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result.Clone(), nil
}
