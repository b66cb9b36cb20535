package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/auth"
)

// NewRouter mounts the checkout routes behind the optional identity
// middleware and the webhook route without it. identity may be nil.
func NewRouter(checkoutHandler *CheckoutHandler, webhookHandler *WebhookHandler, identity *auth.Verifier) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(identity))
		checkoutHandler.RegisterRoutes(r)
	})
	webhookHandler.RegisterRoutes(router)

	return router
}
