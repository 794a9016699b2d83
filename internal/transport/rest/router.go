package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/pesalend/loan-intake/internal/payment"
	"github.com/pesalend/loan-intake/internal/transport/middleware"
	"github.com/pesalend/loan-intake/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, allowedOrigins string, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORSWithOrigins(allowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if webhookHandler != nil {
			// Webhooks bypass the request/response logging middleware body
			// capture concerns; signatures are filtered by the logger anyway.
			r.Post("/webhooks/{gateway}", webhookHandler.HandleProviderWebhook)
		}

		if paymentHandler != nil {
			r.Route("/payments", func(r chi.Router) {
				r.Use(middleware.LoggingMiddleware(logger))
				r.Post("/checkout", paymentHandler.Checkout)
				r.Post("/confirm", paymentHandler.Confirm)
				r.Get("/fee", paymentHandler.Fee)
				r.Get("/gateways", paymentHandler.Gateways)
			})
			r.With(middleware.LoggingMiddleware(logger)).
				Get("/applications/{applicationID}/payments", paymentHandler.ListForApplication)
		}
	})
}
