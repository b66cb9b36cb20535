package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/checkout"
	settlementHandler "github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/payment"
)

type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) Checkout(ctx context.Context, items []cart.Request, contact order.Contact) (*checkout.Result, error) {
	args := m.Called(ctx, items, contact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

func (m *MockCheckoutService) RetrySession(ctx context.Context, ref string) (*checkout.Result, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Result), args.Error(1)
}

func (m *MockCheckoutService) GetOrder(ctx context.Context, ref string) (*order.Order, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func pendingOrder() *order.Order {
	return &order.Order{
		ID:                uuid.Must(uuid.NewV4()),
		ExternalReference: "01HZREF",
		Status:            order.StatusPending,
		LineItems:         []order.LineItem{{ProductRef: "sku-1", Title: "Mug", Quantity: 2, UnitPriceSnapshot: decimal.NewFromInt(100)}},
		Total:             decimal.NewFromInt(200),
		ContactEmail:      "buyer@example.com",
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
}

func serveCheckout(t *testing.T, svc checkout.Service, identity *auth.Verifier, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Use(auth.Middleware(identity))
	settlementHandler.NewCheckoutHandler(svc).RegisterRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func checkoutRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/orders/checkout", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCheckoutHandler_handleCheckout_Success(t *testing.T) {
	mockService := new(MockCheckoutService)
	o := pendingOrder()

	mockService.On("Checkout", mock.Anything,
		[]cart.Request{{ItemID: "sku-1", Quantity: 2}},
		mock.MatchedBy(func(c order.Contact) bool {
			return c.Email == "buyer@example.com" && c.CustomerID == "" && string(c.ShippingAddress) == `{"city":"Lima"}`
		}),
	).Return(&checkout.Result{Order: o, Session: &payment.Session{ID: "pref-1", RedirectURL: "https://pay/1"}}, nil).Once()

	rr := serveCheckout(t, mockService, nil, checkoutRequest(t, map[string]any{
		"items":           []map[string]any{{"id": "sku-1", "quantity": 2}},
		"email":           "buyer@example.com",
		"shippingAddress": map[string]string{"city": "Lima"},
	}))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp settlementHandler.CheckoutResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, settlementHandler.CheckoutResponse{
		ID:                "pref-1",
		InitPoint:         "https://pay/1",
		OrderID:           o.ID,
		ExternalReference: "01HZREF",
	}, resp)
	mockService.AssertExpectations(t)
}

func TestCheckoutHandler_handleCheckout_AttachesCustomer(t *testing.T) {
	mockService := new(MockCheckoutService)
	identity := auth.NewVerifier("jwt-secret")
	token, err := identity.Sign("customer-7", validClaims())
	require.NoError(t, err)

	mockService.On("Checkout", mock.Anything, mock.Anything, mock.MatchedBy(func(c order.Contact) bool {
		return c.CustomerID == "customer-7"
	})).Return(&checkout.Result{Order: pendingOrder(), Session: &payment.Session{ID: "pref-1", RedirectURL: "https://pay/1"}}, nil).Once()

	req := checkoutRequest(t, map[string]any{
		"items": []map[string]any{{"id": "sku-1", "quantity": 1}},
		"email": "buyer@example.com",
	})
	req.Header.Set("Authorization", "Bearer "+token)

	rr := serveCheckout(t, mockService, identity, req)
	assert.Equal(t, http.StatusCreated, rr.Code)
	mockService.AssertExpectations(t)
}

func TestCheckoutHandler_handleCheckout_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not_json", body: `{"items":`},
		{name: "no_items", body: `{"items":[],"email":"buyer@example.com"}`},
		{name: "missing_email", body: `{"items":[{"id":"sku-1","quantity":1}]}`},
		{name: "bad_email", body: `{"items":[{"id":"sku-1","quantity":1}],"email":"nope"}`},
		{name: "zero_quantity", body: `{"items":[{"id":"sku-1","quantity":0}],"email":"buyer@example.com"}`},
		{name: "missing_id", body: `{"items":[{"quantity":1}],"email":"buyer@example.com"}`},
		{name: "client_price", body: `{"items":[{"id":"sku-1","quantity":1,"price":1}],"email":"buyer@example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockCheckoutService)
			req := httptest.NewRequest(http.MethodPost, "/orders/checkout", bytes.NewBufferString(tt.body))

			rr := serveCheckout(t, mockService, nil, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			mockService.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCheckoutHandler_handleCheckout_ServiceErrors(t *testing.T) {
	o := pendingOrder()
	tests := []struct {
		name        string
		result      *checkout.Result
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "insufficient_stock",
			err:         &cart.InsufficientStockError{ItemID: "sku-1", Available: 1, Requested: 2},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "sku-1",
		},
		{
			name:        "item_not_found",
			err:         &cart.ItemNotFoundError{ItemID: "sku-404"},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "sku-404",
		},
		{
			name:        "provider_failure",
			result:      &checkout.Result{Order: o},
			err:         &payment.ProviderError{Op: "create session", Err: errors.New("timeout")},
			wantStatus:  http.StatusInternalServerError,
			wantMessage: o.ExternalReference,
		},
		{
			name:        "storage_failure",
			err:         errors.New("connection refused"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Checkout failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockCheckoutService)
			mockService.On("Checkout", mock.Anything, mock.Anything, mock.Anything).Return(tt.result, tt.err).Once()

			rr := serveCheckout(t, mockService, nil, checkoutRequest(t, map[string]any{
				"items": []map[string]any{{"id": "sku-1", "quantity": 2}},
				"email": "buyer@example.com",
			}))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantMessage)
			assert.NotContains(t, rr.Body.String(), "connection refused")
			mockService.AssertExpectations(t)
		})
	}
}

func TestCheckoutHandler_handleGetOrder(t *testing.T) {
	mockService := new(MockCheckoutService)
	o := pendingOrder()
	mockService.On("GetOrder", mock.Anything, "01HZREF").Return(o, nil).Once()
	mockService.On("GetOrder", mock.Anything, "missing").Return(nil, order.ErrOrderNotFound).Once()

	rr := serveCheckout(t, mockService, nil, httptest.NewRequest(http.MethodGet, "/orders/01HZREF", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp settlementHandler.OrderResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, o.ID, resp.ID)
	assert.Equal(t, order.StatusPending, resp.Status)
	assert.Equal(t, "200.00", resp.Total)
	require.Len(t, resp.LineItems, 1)
	assert.Equal(t, "100.00", resp.LineItems[0].UnitPrice)

	rr = serveCheckout(t, mockService, nil, httptest.NewRequest(http.MethodGet, "/orders/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	mockService.AssertExpectations(t)
}

func TestCheckoutHandler_handleRetrySession(t *testing.T) {
	mockService := new(MockCheckoutService)
	o := pendingOrder()
	mockService.On("RetrySession", mock.Anything, "01HZREF").
		Return(&checkout.Result{Order: o, Session: &payment.Session{ID: "pref-2", RedirectURL: "https://pay/2"}}, nil).Once()
	mockService.On("RetrySession", mock.Anything, "paid-one").
		Return(nil, checkout.ErrOrderNotPending).Once()

	rr := serveCheckout(t, mockService, nil, httptest.NewRequest(http.MethodPost, "/orders/01HZREF/payment-session", nil))
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), "https://pay/2")

	rr = serveCheckout(t, mockService, nil, httptest.NewRequest(http.MethodPost, "/orders/paid-one/payment-session", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
	mockService.AssertExpectations(t)
}
