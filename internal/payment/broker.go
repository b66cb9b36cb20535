package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
)

type BrokerConfig struct {
	Currency        string
	Timeout         time.Duration
	BackURLs        BackURLs
	NotificationURL string
}

// SessionBroker turns a pending order into a provider checkout session.
type SessionBroker struct {
	provider Provider
	cfg      BrokerConfig
}

func NewSessionBroker(provider Provider, cfg BrokerConfig) *SessionBroker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SessionBroker{provider: provider, cfg: cfg}
}

// CreateSession describes o to the provider using only the order's own price
// snapshot and returns where to redirect the shopper. It never mutates o.
func (b *SessionBroker) CreateSession(ctx context.Context, o *order.Order) (*Session, error) {
	if o == nil || len(o.LineItems) == 0 {
		return nil, &ProviderError{Op: "create session", Err: order.ErrNoLineItems}
	}

	req := SessionRequest{
		ExternalReference: o.ExternalReference,
		Items:             make([]LineItem, 0, len(o.LineItems)),
		PayerEmail:        o.ContactEmail,
		BackURLs:          b.cfg.BackURLs,
		NotificationURL:   b.cfg.NotificationURL,
	}
	for _, li := range o.LineItems {
		req.Items = append(req.Items, LineItem{
			ID:        li.ProductRef,
			Title:     li.Title,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPriceSnapshot,
			Currency:  b.cfg.Currency,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	session, err := b.provider.CreateSession(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("external_reference", o.ExternalReference).Msg("broker: failed to create payment session")
		var perr *ProviderError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, &ProviderError{Op: "create session", Err: err}
	}
	if session == nil || session.RedirectURL == "" {
		return nil, &ProviderError{Op: "create session", Err: fmt.Errorf("empty redirect url for %s", o.ExternalReference)}
	}

	log.Info().
		Str("external_reference", o.ExternalReference).
		Str("session_id", session.ID).
		Msg("broker: payment session created")

	return session, nil
}
