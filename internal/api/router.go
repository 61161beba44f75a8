/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwtSecret, internalAPIKey string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Gateway webhooks authenticate with the verif-hash header, not a JWT.
	r.Post("/webhooks/flutterwave", h.FlutterwaveWebhookHandler)

	// Group routes that require user authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		// Payment endpoints
		r.Post("/payments/job-verification", h.InitializeJobVerificationHandler)
		r.Post("/payments/project-funding", h.InitializeProjectFundingHandler)
		r.Post("/payments/verify", h.VerifyPaymentHandler)
		r.Get("/payments", h.ListPaymentsHandler)
		r.Get("/payments/{id}", h.GetPaymentHandler)
		r.Post("/payments/{id}/release", h.ReleaseEscrowHandler)
		r.Post("/payments/{id}/refund", h.RefundPaymentHandler)

		// Wallet endpoints
		r.Get("/wallet", h.GetWalletHandler)
		r.Post("/wallet/withdraw", h.RequestWithdrawalHandler)
		r.Get("/wallet/transactions", h.ListTransactionsHandler)

		// Spark economy endpoints
		r.Get("/sparks/balance", h.GetSparkBalanceHandler)
		r.Post("/sparks/daily-reward", h.ClaimDailyRewardHandler)
		r.Post("/sparks/spend", h.SpendSparksHandler)
		r.Post("/sparks/transfer", h.TransferSparksHandler)
		r.Get("/sparks/history", h.SparkHistoryHandler)
		r.Get("/sparks/stats", h.SparkStatsHandler)

		// Subscription endpoints
		r.Post("/subscriptions/upgrade", h.InitializeSubscriptionUpgradeHandler)
		r.Post("/subscriptions/verify", h.VerifySubscriptionUpgradeHandler)
		r.Get("/subscriptions/me", h.GetSubscriptionHandler)
		r.Post("/subscriptions/cancel", h.CancelSubscriptionHandler)
	})

	// Internal service-to-service endpoints guarded by a shared API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/internal/sparks/award", h.AwardSparksHandler)
		r.Get("/internal/wallets/{userID}/reconcile", h.ReconcileWalletHandler)
		r.Get("/internal/sparks/{userID}/reconcile", h.ReconcileSparksHandler)
		r.Get("/internal/payments/stats", h.PaymentStatsHandler)
	})

	return r
}
