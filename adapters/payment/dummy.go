package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/tokengate/ports"
)

// DummyGateway simulates a payment gateway for development and demos.
// Created subscriptions are held in memory so fetch and cancel round-trip.
type DummyGateway struct {
	mu   sync.Mutex
	subs map[string]ports.GatewaySubscription
}

// NewDummyGateway creates a new dummy gateway.
func NewDummyGateway() *DummyGateway {
	return &DummyGateway{
		subs: make(map[string]ports.GatewaySubscription),
	}
}

// Name returns the gateway name.
func (g *DummyGateway) Name() string {
	return "dummy"
}

// PublicKeyID returns a fake publishable key.
func (g *DummyGateway) PublicKeyID() string {
	return "rzp_test_dummy"
}

// CreateSubscription simulates opening a subscription. The subscription
// starts authenticated so the verify flow can activate it.
func (g *DummyGateway) CreateSubscription(ctx context.Context, gatewayPlanID string, totalCount int) (ports.GatewaySubscription, error) {
	end := time.Now().UTC().AddDate(0, 1, 0)
	sub := ports.GatewaySubscription{
		ID:         fmt.Sprintf("sub_dummy_%s", uuid.New().String()[:8]),
		PlanID:     gatewayPlanID,
		Status:     "authenticated",
		CurrentEnd: &end,
	}

	g.mu.Lock()
	g.subs[sub.ID] = sub
	g.mu.Unlock()

	return sub, nil
}

// FetchSubscription returns the stored subscription, promoted to active.
func (g *DummyGateway) FetchSubscription(ctx context.Context, gatewayID string) (ports.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sub, ok := g.subs[gatewayID]
	if !ok {
		end := time.Now().UTC().AddDate(0, 1, 0)
		sub = ports.GatewaySubscription{ID: gatewayID, CurrentEnd: &end}
	}
	sub.Status = "active"
	g.subs[gatewayID] = sub
	return sub, nil
}

// CancelSubscription simulates successful cancellation.
func (g *DummyGateway) CancelSubscription(ctx context.Context, gatewayID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sub, ok := g.subs[gatewayID]; ok {
		sub.Status = "cancelled"
		g.subs[gatewayID] = sub
	}
	return nil
}

// CreateOrder simulates opening a one-time order.
func (g *DummyGateway) CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (ports.GatewayOrder, error) {
	return ports.GatewayOrder{
		ID:       fmt.Sprintf("order_dummy_%s", uuid.New().String()[:8]),
		Amount:   amount,
		Currency: currency,
	}, nil
}

var _ ports.PaymentGateway = (*DummyGateway)(nil)
