/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. zerolog:    Structured request logging
  4. CORS:       Cross-origin requests for the club frontend
  5. auth:       Bearer-token identity resolution (API routes only)

AUTHENTICATION:
  Every /api route except the payment webhook runs through the identity
  resolver. The webhook authenticates via payload signature instead; a
  processor cannot hold a member token.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/stagepass/points-engine/economy"
)

type contextKey string

const userContextKey contextKey = "points-engine.user"

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Webhook first: signature auth, never bearer auth
		r.Post("/webhooks/payments", h.HandleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Route("/clubs", func(r chi.Router) {
				r.Post("/", h.CreateClub)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetClub)
					r.Put("/economics", h.UpdateEconomics)
					r.Put("/multipliers", h.SetMultiplier)
					r.Get("/leaderboard", h.GetLeaderboard)

					r.Post("/tap-in", h.TapIn)
					r.Get("/wallet", h.GetWallet)
					r.Get("/transactions", h.GetTransactions)
					r.Post("/transfers", h.CreateTransfer)

					r.Get("/rewards", h.ListRewards)
					r.Post("/rewards", h.CreateReward)
					r.Get("/redemptions", h.ListRedemptions)

					r.Post("/chain-purchases", h.ChainPurchase)

					r.Get("/settlement/coverage", h.GetCoverage)
					r.Get("/settlement/weekly", h.GetWeeklyStats)

					r.Post("/adjustments", h.CreateAdjustment)
				})
			})

			r.Route("/rewards/{id}", func(r chi.Router) {
				r.Put("/pricing", h.SetPricing)
				r.Post("/redeem", h.RedeemReward)
			})

			r.Post("/redemptions/{id}/confirm", h.ConfirmRedemption)
			r.Post("/checkout", h.StartCheckout)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/sweep-holds", h.SweepHolds)
				r.Post("/users/{id}/deactivate", h.DeactivateUser)
			})
		})
	})

	return r
}

// authenticate resolves the bearer token to an internal user, provisioning on
// first contact, and stores the user in the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.Resolver.Resolve(r.Context(), r)
		if err != nil {
			h.writeDomainError(w, "Authentication failed", err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFrom returns the authenticated user. Only valid below the authenticate
// middleware; the router guarantees that.
func userFrom(r *http.Request) *economy.User {
	return r.Context().Value(userContextKey).(*economy.User)
}

// requestLogger emits one structured line per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
