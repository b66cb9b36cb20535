package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/payment"
)

type CheckoutItem struct {
	ID       string `json:"id" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

// CheckoutRequest carries no prices; they come from the catalog.
type CheckoutRequest struct {
	Items           []CheckoutItem  `json:"items" validate:"required,min=1,dive"`
	Email           string          `json:"email" validate:"required,email"`
	ShippingAddress json.RawMessage `json:"shippingAddress,omitempty"`
}

type CheckoutResponse struct {
	ID                string    `json:"id"`
	InitPoint         string    `json:"init_point"`
	OrderID           uuid.UUID `json:"orderId"`
	ExternalReference string    `json:"externalReference"`
}

type ProviderErrorResponse struct {
	Error             string    `json:"error"`
	OrderID           uuid.UUID `json:"orderId"`
	ExternalReference string    `json:"externalReference"`
}

type LineItemResponse struct {
	ProductRef string `json:"productRef"`
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unitPrice"`
}

type OrderResponse struct {
	ID                uuid.UUID          `json:"id"`
	ExternalReference string             `json:"externalReference"`
	Status            order.Status       `json:"status"`
	Total             string             `json:"total"`
	LineItems         []LineItemResponse `json:"lineItems"`
	PaymentProviderID *string            `json:"paymentProviderId,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

type CheckoutHandler struct {
	service  checkout.Service
	validate *validator.Validate
}

func NewCheckoutHandler(service checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders/checkout", h.handleCheckout)
	router.Get("/orders/{ref}", h.handleGetOrder)
	router.Post("/orders/{ref}/payment-session", h.handleRetrySession)
}

func (h *CheckoutHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var requestPayload CheckoutRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&requestPayload); err != nil {
		log.Debug().Err(err).Msg("Failed to decode checkout request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
			return
		}
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return
	}

	items := make([]cart.Request, 0, len(requestPayload.Items))
	for _, it := range requestPayload.Items {
		items = append(items, cart.Request{ItemID: it.ID, Quantity: it.Quantity})
	}
	contact := order.Contact{
		Email:           requestPayload.Email,
		ShippingAddress: requestPayload.ShippingAddress,
		CustomerID:      auth.CustomerID(r.Context()),
	}

	result, err := h.service.Checkout(r.Context(), items, contact)
	if err != nil {
		h.respondWithCheckoutError(w, result, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, CheckoutResponse{
		ID:                result.Session.ID,
		InitPoint:         result.Session.RedirectURL,
		OrderID:           result.Order.ID,
		ExternalReference: result.Order.ExternalReference,
	})
}

func (h *CheckoutHandler) handleRetrySession(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	result, err := h.service.RetrySession(r.Context(), ref)
	if err != nil {
		h.respondWithCheckoutError(w, result, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, CheckoutResponse{
		ID:                result.Session.ID,
		InitPoint:         result.Session.RedirectURL,
		OrderID:           result.Order.ID,
		ExternalReference: result.Order.ExternalReference,
	})
}

func (h *CheckoutHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	o, err := h.service.GetOrder(r.Context(), ref)
	if err != nil {
		statusCode := mapErrorToStatusCode(err)
		if statusCode == http.StatusNotFound {
			respondWithError(w, statusCode, "Order not found")
			return
		}
		log.Error().Err(err).Str("external_reference", ref).Msg("Failed to get order via service")
		respondWithError(w, statusCode, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *CheckoutHandler) respondWithCheckoutError(w http.ResponseWriter, result *checkout.Result, err error) {
	var providerErr *payment.ProviderError
	if errors.As(err, &providerErr) && result != nil && result.Order != nil {
		log.Error().Err(err).Str("external_reference", result.Order.ExternalReference).Msg("Payment session could not be created")
		respondWithJSON(w, http.StatusInternalServerError, ProviderErrorResponse{
			Error:             "Payment provider unavailable, retry the payment session",
			OrderID:           result.Order.ID,
			ExternalReference: result.Order.ExternalReference,
		})
		return
	}

	statusCode := mapErrorToStatusCode(err)
	switch statusCode {
	case http.StatusBadRequest:
		respondWithError(w, statusCode, err.Error())
	case http.StatusNotFound:
		respondWithError(w, statusCode, "Order not found")
	case http.StatusConflict:
		respondWithError(w, statusCode, "Order is no longer pending")
	default:
		log.Error().Err(err).Msg("Checkout failed")
		respondWithError(w, statusCode, "Checkout failed")
	}
}

func toOrderResponse(o *order.Order) OrderResponse {
	lines := make([]LineItemResponse, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		lines = append(lines, LineItemResponse{
			ProductRef: li.ProductRef,
			Title:      li.Title,
			Quantity:   li.Quantity,
			UnitPrice:  li.UnitPriceSnapshot.StringFixed(2),
		})
	}
	return OrderResponse{
		ID:                o.ID,
		ExternalReference: o.ExternalReference,
		Status:            o.Status,
		Total:             o.Total.StringFixed(2),
		LineItems:         lines,
		PaymentProviderID: o.PaymentProviderID,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}
