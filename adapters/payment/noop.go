package payment

import (
	"context"
	"errors"

	"github.com/promptforge/tokengate/ports"
)

// ErrGatewayDisabled is returned when no payment gateway is configured.
var ErrGatewayDisabled = errors.New("payment gateway is not configured")

// NoopGateway is a no-op gateway for deployments without payments.
type NoopGateway struct{}

// NewNoopGateway creates a new no-op gateway.
func NewNoopGateway() *NoopGateway {
	return &NoopGateway{}
}

// Name returns the gateway name.
func (g *NoopGateway) Name() string {
	return "none"
}

// PublicKeyID returns an empty key as payments are disabled.
func (g *NoopGateway) PublicKeyID() string {
	return ""
}

// CreateSubscription returns an error as payments are disabled.
func (g *NoopGateway) CreateSubscription(ctx context.Context, gatewayPlanID string, totalCount int) (ports.GatewaySubscription, error) {
	return ports.GatewaySubscription{}, ErrGatewayDisabled
}

// FetchSubscription returns an error as payments are disabled.
func (g *NoopGateway) FetchSubscription(ctx context.Context, gatewayID string) (ports.GatewaySubscription, error) {
	return ports.GatewaySubscription{}, ErrGatewayDisabled
}

// CancelSubscription returns an error as payments are disabled.
func (g *NoopGateway) CancelSubscription(ctx context.Context, gatewayID string) error {
	return ErrGatewayDisabled
}

// CreateOrder returns an error as payments are disabled.
func (g *NoopGateway) CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (ports.GatewayOrder, error) {
	return ports.GatewayOrder{}, ErrGatewayDisabled
}

var _ ports.PaymentGateway = (*NoopGateway)(nil)
