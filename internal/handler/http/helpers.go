package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/webhook"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details[fe.Namespace()] = "is required"
		case "email":
			details[fe.Namespace()] = "must be a valid email address"
		case "min":
			details[fe.Namespace()] = "must be at least " + fe.Param()
		default:
			details[fe.Namespace()] = "failed on " + fe.Tag()
		}
	}
	return details
}

func mapErrorToStatusCode(err error) int {
	var (
		notFound   *cart.ItemNotFoundError
		noStock    *cart.InsufficientStockError
		invalidQty *cart.InvalidQuantityError
	)
	switch {
	case errors.Is(err, cart.ErrEmptyCart),
		errors.As(err, &notFound),
		errors.As(err, &noStock),
		errors.As(err, &invalidQty):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrOrderNotPending):
		return http.StatusConflict
	case errors.Is(err, webhook.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, webhook.ErrMalformedPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
