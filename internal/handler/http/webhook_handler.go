package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/webhook"
)

type NotificationVerifier interface {
	Verify(header http.Header, body []byte) (*webhook.Notification, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, n *webhook.Notification) error
}

type WebhookHandler struct {
	verifier     NotificationVerifier
	reconciler   Reconciler
	dedupe       webhook.Deduplicator
	maxBodyBytes int64
}

func NewWebhookHandler(verifier NotificationVerifier, reconciler Reconciler, dedupe webhook.Deduplicator, maxBodyBytes int64) *WebhookHandler {
	if dedupe == nil {
		dedupe = webhook.NopDeduplicator{}
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &WebhookHandler{
		verifier:     verifier,
		reconciler:   reconciler,
		dedupe:       dedupe,
		maxBodyBytes: maxBodyBytes,
	}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/payment", h.handlePaymentWebhook)
}

// handlePaymentWebhook acknowledges every authenticated notification with 200.
// Reconciliation problems go to the log, never back to the provider.
func (h *WebhookHandler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Str("request_id", requestID).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	n, err := h.verifier.Verify(r.Header, body)
	if err != nil {
		if errors.Is(err, webhook.ErrUnauthorized) {
			log.Warn().
				Err(err).
				Str("security_event", "webhook_signature_rejected").
				Str("remote_addr", r.RemoteAddr).
				Str("request_id", requestID).
				Str("provider_request_id", r.Header.Get(webhook.RequestIDHeader)).
				Msg("Rejected unauthenticated webhook")
			respondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		log.Warn().Err(err).Str("request_id", requestID).Msg("Rejected malformed webhook")
		respondWithError(w, mapErrorToStatusCode(err), "Malformed notification")
		return
	}

	ctx := r.Context()
	logger := log.With().
		Str("request_id", requestID).
		Str("notification_id", n.ID).
		Str("notification_type", n.Type).
		Str("payment_id", n.PaymentID).
		Logger()

	key := n.DeliveryKey()
	seen := false
	if key != "" {
		var err error
		seen, err = h.dedupe.Seen(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Msg("Webhook dedupe lookup failed, reconciling anyway")
		}
	}
	if seen {
		logger.Debug().Msg("Webhook already reconciled, acknowledging")
		respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.reconciler.Reconcile(ctx, n); err != nil {
		logger.Error().Err(err).Str("anomaly", "reconcile_failed").Msg("Webhook reconciliation failed")
	} else if key != "" {
		if err := h.dedupe.MarkSeen(ctx, key); err != nil {
			logger.Warn().Err(err).Msg("Failed to record reconciled webhook")
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}
