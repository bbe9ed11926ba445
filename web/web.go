// Package web provides the JSON HTTP API: billing use cases, token balance
// and history reads, and the gateway webhook endpoint.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/promptforge/tokengate/adapters/metrics"
	"github.com/promptforge/tokengate/app"
	"github.com/promptforge/tokengate/config"
	"github.com/promptforge/tokengate/domain/ledger"
	"github.com/promptforge/tokengate/ports"
)

// Handler provides the HTTP API endpoints.
type Handler struct {
	cfg      *config.Holder
	billing  *app.BillingService
	webhooks *app.WebhookService
	usage    *app.UsageService
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// Deps contains dependencies for the web handler.
type Deps struct {
	Config   *config.Holder
	Billing  *app.BillingService
	Webhooks *app.WebhookService
	Usage    *app.UsageService
	Metrics  *metrics.Collector
	Logger   zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		cfg:      deps.Config,
		billing:  deps.Billing,
		webhooks: deps.Webhooks,
		usage:    deps.Usage,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// Routes builds the chi router for all endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if h.metrics != nil {
		r.Use(newMetricsMiddleware(h.metrics))
	}

	r.Get("/health", h.handleHealth)
	if h.cfg.Get().Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/webhooks/razorpay", h.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Route("/billing", func(r chi.Router) {
			r.Get("/plans", h.handlePlans)
			r.Get("/subscription", h.handleActiveSubscription)
			r.Post("/subscriptions", h.handleCreateSubscription)
			r.Post("/verify", h.handleVerifySubscription)
			r.Post("/cancel", h.handleCancelSubscription)
			r.Post("/topup", h.handleCreateTopup)
		})
		r.Route("/tokens", func(r chi.Router) {
			r.Get("/balance", h.handleBalance)
			r.Get("/history", h.handleHistory)
			r.Post("/trial", h.handleClaimTrial)
			r.Post("/precheck", h.handlePreCheck)
			r.Post("/consume", h.handleConsume)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes a JSON response body.
func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError maps a service error to an HTTP status and JSON body.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrInvalidSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, ledger.ErrInsufficientTokens):
		status = http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrPlanNotFound), errors.Is(err, app.ErrGatewayNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func newMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start).Seconds()
			status := statusLabel(ww.Status())
			path := metrics.NormalizePath(r.URL.Path)

			m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		})
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
