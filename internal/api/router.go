/**
 * @description
 * This file sets up the HTTP router for the wallet service. It defines the
 * API endpoints, associates them with their handlers, and applies middleware
 * for logging, recovery, CORS and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns the router for the wallet service.
func Routes(h *WalletHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway webhook: unauthenticated, HMAC-verified in the handler.
	r.Post("/wallet/webhook", h.PaystackWebhookHandler)

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Route("/wallet", func(r chi.Router) {
			r.Post("/fund", h.FundWalletHandler)
			r.Get("/balance", h.GetBalanceHandler)
			r.Get("/transactions", h.ListTransactionsHandler)
		})

		r.Post("/security/pin", h.SetPINHandler)

		r.Route("/autotopup", func(r chi.Router) {
			r.Post("/", h.CreateAutoTopUpHandler)
			r.Get("/", h.ListAutoTopUpsHandler)
			r.Patch("/{id}/cancel", h.CancelAutoTopUpHandler)
			r.Patch("/{id}/reactivate", h.ReactivateAutoTopUpHandler)
			r.Delete("/{id}", h.DeleteAutoTopUpHandler)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroupHandler)
			r.Get("/{id}", h.GetGroupHandler)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/group", h.CreateGroupPaymentHandler)
			r.Get("/group/{id}", h.GetGroupPaymentHandler)
			r.Post("/{service}", h.PurchaseHandler)
		})
	})

	return r
}
