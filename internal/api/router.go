/**
 * @description
 * HTTP router setup for the enrollment-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the enrollment routes.
// Browser requests are only honoured from allowedOrigins.
func NewRouter(h *Handlers, jwksURL string, internalKey string, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	corsOptions := cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(allowedOrigins) == 0 {
		// An empty list means "any origin" to the cors package.
		corsOptions.AllowOriginFunc = func(r *http.Request, origin string) bool { return false }
	}
	r.Use(cors.Handler(corsOptions))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Processor webhooks authenticate with their HMAC signature, not a user token.
	r.Post("/webhooks/payments", h.PaymentWebhookHandler)

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Put("/courses/{courseID}", h.SyncCourseHandler)
		r.Get("/access", h.InternalAccessHandler)
		r.Post("/payment-intents/expire", h.ExpireIntentsHandler)
	})

	r.Route("/courses/{courseID}", func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))

		r.Post("/checkout", h.CheckoutHandler)
		r.Get("/access", h.AccessHandler)
		r.Get("/progress", h.GetProgressHandler)
		r.Put("/modules/{moduleID}/progress", h.UpdateProgressHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireEnrollment)
			r.Get("/modules/{moduleID}/video", h.ModuleVideoHandler)
			r.Get("/assignments/{assignmentID}/attachment", h.AssignmentAttachmentHandler)
			r.Get("/qa", h.QAHandler)
			r.Post("/qa", h.QAHandler)
			r.Post("/certificate", h.CertificateHandler)
		})
	})

	return r
}
