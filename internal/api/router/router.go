package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fixhaven/fixhaven-api/internal/booking"
	"github.com/fixhaven/fixhaven-api/internal/events"
	httpmiddleware "github.com/fixhaven/fixhaven-api/internal/http/middleware"
	"github.com/fixhaven/fixhaven-api/internal/identity"
	"github.com/fixhaven/fixhaven-api/internal/payments"
	"github.com/fixhaven/fixhaven-api/pkg/logging"
)

// pinger is the readiness probe surface (pgxpool satisfies it).
type pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	BookingHandler  *booking.Handler
	PaymentsHandler *payments.Handler
	WebhookHandler  *payments.WebhookHandler
	Dispatcher      *events.Dispatcher
	MetricsHandler  http.Handler
	DB              pinger

	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates the Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}

	// Public endpoints: probes, metrics and the provider webhook, which
	// authenticates by signature rather than bearer token.
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.DB))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WebhookHandler != nil {
			public.Post("/payments/webhook", cfg.WebhookHandler.Handle)
		}
	})

	// Authenticated API.
	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.Authenticate(cfg.JWTSecret))

		api.Route("/bookings", func(b chi.Router) {
			b.Get("/available-slots", cfg.BookingHandler.AvailableSlots)

			b.With(requireKind(identity.KindCustomer, identity.KindAdmin)).
				Post("/", cfg.BookingHandler.Create)
			b.With(requireKind(identity.KindCustomer)).
				Get("/mine", cfg.BookingHandler.Mine)
			b.With(requireKind(identity.KindProvider)).
				Get("/provider-view", cfg.BookingHandler.ProviderView)

			b.With(httpmiddleware.RequireAdmin()).Get("/", cfg.BookingHandler.ListAll)
			b.With(httpmiddleware.RequireAdmin()).Get("/stats", cfg.BookingHandler.Stats)

			b.Route("/{id}", func(one chi.Router) {
				one.Get("/", cfg.BookingHandler.Get)
				one.With(requireKind(identity.KindProvider, identity.KindAdmin)).
					Post("/status", cfg.BookingHandler.UpdateStatus)
				one.With(requireKind(identity.KindCustomer, identity.KindAdmin)).
					Post("/cancel", cfg.BookingHandler.Cancel)
				one.With(requireKind(identity.KindCustomer, identity.KindAdmin)).
					Post("/reschedule", cfg.BookingHandler.Reschedule)
				one.With(requireKind(identity.KindCustomer)).
					Post("/review", cfg.BookingHandler.Review)
			})
		})

		if cfg.PaymentsHandler != nil {
			api.Route("/payments", func(p chi.Router) {
				p.Post("/intent", cfg.PaymentsHandler.CreateIntent)
				p.Post("/confirm", cfg.PaymentsHandler.Confirm)
				p.With(httpmiddleware.RequireAdmin()).Post("/refund", cfg.PaymentsHandler.Refund)
			})
		}

		// Admin-triggered redelivery of undelivered notification events.
		if cfg.Dispatcher != nil {
			api.With(httpmiddleware.RequireAdmin()).
				Post("/admin/events/redeliver", redeliverHandler(cfg.Dispatcher, cfg.Logger))
		}
	})

	return r
}

func requireKind(kinds ...identity.Kind) func(http.Handler) http.Handler {
	return httpmiddleware.RequireKind(kinds...)
}

func healthHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

func redeliverHandler(d *events.Dispatcher, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := int32(100)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.ParseInt(raw, 10, 32); err == nil && n > 0 && n <= 1000 {
				limit = int32(n)
			}
		}
		delivered, err := d.DispatchPending(r.Context(), limit)
		if err != nil {
			if logger != nil {
				logger.Error("event redelivery failed", "error", err)
			}
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"delivered": delivered})
	}
}
