package api

import (
	"net/http"

	"github.com/fastprodman/farmpay/internal/services/tracker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	Service Service
	Auth    *Authenticator
	// Events feeds the SSE endpoint; the escrow service should publish to
	// it as a notifier.
	Events  *tracker.Broadcaster
	Limiter *rate.Limiter
}

// NewRouter constructs a chi router with all API endpoints registered.
func NewRouter(cfg RouterConfig) http.Handler {
	events := cfg.Events
	if events == nil {
		events = tracker.NewBroadcaster(nil)
	}

	h := NewHandler(cfg.Service, events)
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(metrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(rateLimit(cfg.Limiter))
		}

		r.Use(authenticate(cfg.Auth))

		r.Post("/transactions/{sourceType}", h.CreateTransactionHandler)

		r.Route("/payment", func(r chi.Router) {
			r.Get("/transaction/{id}", h.GetTransactionHandler)
			r.Get("/transaction/{id}/events", h.EventsHandler)
			r.Post("/transaction/{id}/confirmation", h.ConfirmationHandler)
			r.Post("/transaction/{id}/delivery", h.DeliveryHandler)
			r.Post("/process-payout/{id}", h.ProcessPayoutHandler)
		})

		r.Route("/seller", func(r chi.Router) {
			r.Get("/account", h.GetAccountHandler)
			r.Post("/account", h.CreateAccountHandler)
			r.Post("/bank-account", h.BankAccountHandler)
			r.Get("/balance", h.BalanceHandler)
			r.Get("/transfers", h.TransfersHandler)
			r.Post("/payout", h.PayoutHandler)
		})
	})

	return r
}
