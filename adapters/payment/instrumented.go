package payment

import (
	"context"
	"time"

	"github.com/promptforge/tokengate/adapters/metrics"
	"github.com/promptforge/tokengate/ports"
)

// InstrumentedGateway wraps a gateway and records request durations and
// failures per operation.
type InstrumentedGateway struct {
	next    ports.PaymentGateway
	metrics *metrics.Collector
}

// NewInstrumentedGateway wraps gw with prometheus instrumentation.
func NewInstrumentedGateway(gw ports.PaymentGateway, m *metrics.Collector) *InstrumentedGateway {
	return &InstrumentedGateway{next: gw, metrics: m}
}

// Ensure interface compliance.
var _ ports.PaymentGateway = (*InstrumentedGateway)(nil)

func (g *InstrumentedGateway) Name() string {
	return g.next.Name()
}

func (g *InstrumentedGateway) PublicKeyID() string {
	return g.next.PublicKeyID()
}

func (g *InstrumentedGateway) CreateSubscription(ctx context.Context, gatewayPlanID string, totalCount int) (ports.GatewaySubscription, error) {
	start := time.Now()
	sub, err := g.next.CreateSubscription(ctx, gatewayPlanID, totalCount)
	g.observe("create_subscription", start, err)
	return sub, err
}

func (g *InstrumentedGateway) FetchSubscription(ctx context.Context, gatewayID string) (ports.GatewaySubscription, error) {
	start := time.Now()
	sub, err := g.next.FetchSubscription(ctx, gatewayID)
	g.observe("fetch_subscription", start, err)
	return sub, err
}

func (g *InstrumentedGateway) CancelSubscription(ctx context.Context, gatewayID string) error {
	start := time.Now()
	err := g.next.CancelSubscription(ctx, gatewayID)
	g.observe("cancel_subscription", start, err)
	return err
}

func (g *InstrumentedGateway) CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (ports.GatewayOrder, error) {
	start := time.Now()
	order, err := g.next.CreateOrder(ctx, amount, currency, notes)
	g.observe("create_order", start, err)
	return order, err
}

func (g *InstrumentedGateway) observe(operation string, start time.Time, err error) {
	g.metrics.GatewayDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		g.metrics.GatewayErrors.WithLabelValues(operation).Inc()
	}
}
