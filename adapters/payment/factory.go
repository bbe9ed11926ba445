package payment

import (
	"fmt"

	"github.com/promptforge/tokengate/config"
	"github.com/promptforge/tokengate/ports"
)

// NewGateway creates a payment gateway from configuration.
func NewGateway(cfg config.GatewayConfig) (ports.PaymentGateway, error) {
	switch cfg.Mode {
	case "razorpay":
		if cfg.KeyID == "" || cfg.KeySecret == "" {
			return nil, fmt.Errorf("razorpay key_id and key_secret are required")
		}
		return NewRazorpayGateway(RazorpayConfig{
			KeyID:     cfg.KeyID,
			KeySecret: cfg.KeySecret,
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
		}), nil

	case "dummy", "test":
		return NewDummyGateway(), nil

	case "none", "":
		return NewNoopGateway(), nil

	default:
		return nil, fmt.Errorf("unknown payment gateway mode: %s", cfg.Mode)
	}
}
