// Package metrics provides Prometheus metrics collection for TokenGate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for TokenGate.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Ledger metrics
	CreditsTotal     *prometheus.CounterVec
	CreditedTokens   *prometheus.CounterVec
	DebitsTotal      *prometheus.CounterVec
	DebitedTokens    *prometheus.CounterVec
	DebitRefusals    prometheus.Counter
	DuplicateCredits prometheus.Counter
	FreeTrialGrants  prometheus.Counter

	// Webhook metrics
	WebhookEvents *prometheus.CounterVec

	// Gateway metrics
	GatewayDuration *prometheus.HistogramVec
	GatewayErrors   *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		// Request metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tokengate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tokengate",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		// Ledger metrics
		CreditsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "ledger_credits_total",
				Help:      "Total number of applied ledger credits",
			},
			[]string{"reason"},
		),
		CreditedTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "ledger_credited_tokens_total",
				Help:      "Total tokens credited",
			},
			[]string{"reason"},
		),
		DebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "ledger_debits_total",
				Help:      "Total number of applied ledger debits",
			},
			[]string{"reason"},
		),
		DebitedTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "ledger_debited_tokens_total",
				Help:      "Total tokens debited",
			},
			[]string{"reason"},
		),
		DebitRefusals: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "ledger_debit_refusals_total",
				Help:      "Total debits refused for insufficient balance",
			},
		),
		DuplicateCredits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "ledger_duplicate_credits_total",
				Help:      "Total credits skipped because the external reference was already recorded",
			},
		),
		FreeTrialGrants: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "ledger_free_trial_grants_total",
				Help:      "Total free trial grants applied",
			},
		),

		// Webhook metrics
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "webhook_events_total",
				Help:      "Total webhook events received, by event type and outcome",
			},
			[]string{"event", "outcome"},
		),

		// Gateway metrics
		GatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tokengate",
				Name:      "gateway_request_duration_seconds",
				Help:      "Payment gateway request duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		GatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "gateway_errors_total",
				Help:      "Total payment gateway request failures",
			},
			[]string{"operation"},
		),

		// Config metrics
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tokengate",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// NormalizePath reduces label cardinality for request metrics.
func NormalizePath(path string) string {
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}
