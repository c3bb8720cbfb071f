package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Compress(5))
	r.Use(m.Timeout(15 * time.Second))
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	// v1 API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/markets", func(r chi.Router) {
			r.Post("/", h.CreateMarket)
			r.Get("/", h.ListMarkets)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMarket)

				// Betting
				r.Post("/bets", h.PlaceBet)
				r.Get("/bets/{bettor}", h.GetUserBets)

				// Lifecycle
				r.Post("/close", h.CloseMarket)
				r.Post("/resolve", h.ResolveMarket)
				r.Post("/settle", h.SettleMarket)
				r.Post("/cancel", h.CancelMarket)

				// Disputes
				r.Post("/reports", h.ReportFraud)
				r.Post("/review", h.ReviewMarket)

				// Payouts
				r.Get("/claimable/{bettor}", h.GetClaimable)
				r.Post("/claims", h.ClaimWinnings)
				r.Post("/refunds", h.ClaimRefund)
			})
		})

		// Live updates
		r.Get("/ws", h.hub.ServeHTTP)
	})

	return r
}
