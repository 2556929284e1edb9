package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/salon-booking-settlement/internal/auth"
	"github.com/robertarktes/salon-booking-settlement/internal/idempotency"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"github.com/robertarktes/salon-booking-settlement/internal/rateLimit"
)

type RouterOptions struct {
	Verifier    *auth.Verifier
	RateLimiter *rateLimit.RateLimiter
	Limits      RateLimits
	Idempotency *idempotency.Idempotency
}

func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(CORSMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(opts.Verifier, logger))
		r.Use(RateLimitMiddleware(opts.RateLimiter, opts.Limits, logger))
		r.Use(IdempotencyMiddleware(opts.Idempotency, logger))

		r.Route("/v1/merchants/{merchantID}", func(r chi.Router) {
			r.Get("/slots", h.ListSlots)
			r.Get("/slots/summary", h.SlotSummary)
			r.With(RequireRole(auth.RoleMerchant, logger)).Post("/slots/prefill", h.PrefillSlots)
			r.With(RequireRole(auth.RoleMerchant, logger)).Put("/settings", h.UpdateSettings)
		})

		r.Route("/v1/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/", h.ListBookings)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.With(RequireRole(auth.RoleMerchant, logger)).Post("/{id}/complete", h.CompleteBooking)
		})

		r.Get("/v1/profile/coins", h.CoinBalance)
		r.Post("/payment/initiate", h.InitiatePayment)
		r.Post("/payment/verify", h.VerifyPayment)
	})

	return r
}
