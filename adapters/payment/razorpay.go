// Package payment provides payment gateway implementations.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/promptforge/tokengate/ports"
)

// RazorpayConfig holds Razorpay API credentials.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string // overridable for tests
	Timeout   time.Duration
}

// RazorpayGateway implements ports.PaymentGateway against the Razorpay REST API.
type RazorpayGateway struct {
	config     RazorpayConfig
	httpClient *http.Client
	baseURL    string
}

// NewRazorpayGateway creates a new Razorpay gateway client.
func NewRazorpayGateway(config RazorpayConfig) *RazorpayGateway {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.razorpay.com/v1"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RazorpayGateway{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Name returns the gateway name.
func (g *RazorpayGateway) Name() string {
	return "razorpay"
}

// PublicKeyID returns the publishable key clients pass to the checkout widget.
func (g *RazorpayGateway) PublicKeyID() string {
	return g.config.KeyID
}

// CreateSubscription opens a recurring subscription for a Razorpay plan.
// totalCount is the number of billing cycles the mandate covers.
func (g *RazorpayGateway) CreateSubscription(ctx context.Context, gatewayPlanID string, totalCount int) (ports.GatewaySubscription, error) {
	payload := map[string]interface{}{
		"plan_id":         gatewayPlanID,
		"total_count":     totalCount,
		"customer_notify": 1,
	}

	resp, err := g.doRequest(ctx, "POST", "/subscriptions", payload)
	if err != nil {
		return ports.GatewaySubscription{}, err
	}
	return parseSubscription(resp)
}

// FetchSubscription reads the gateway's current view of a subscription.
func (g *RazorpayGateway) FetchSubscription(ctx context.Context, gatewayID string) (ports.GatewaySubscription, error) {
	resp, err := g.doRequest(ctx, "GET", "/subscriptions/"+gatewayID, nil)
	if err != nil {
		return ports.GatewaySubscription{}, err
	}
	return parseSubscription(resp)
}

// CancelSubscription cancels the subscription at the gateway, effective
// immediately rather than at cycle end.
func (g *RazorpayGateway) CancelSubscription(ctx context.Context, gatewayID string) error {
	payload := map[string]interface{}{
		"cancel_at_cycle_end": 0,
	}
	_, err := g.doRequest(ctx, "POST", "/subscriptions/"+gatewayID+"/cancel", payload)
	return err
}

// CreateOrder opens a one-time order. Notes round-trip through the gateway
// and come back on the payment.captured webhook.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (ports.GatewayOrder, error) {
	payload := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	resp, err := g.doRequest(ctx, "POST", "/orders", payload)
	if err != nil {
		return ports.GatewayOrder{}, err
	}

	order := ports.GatewayOrder{Currency: currency, Amount: amount}
	if id, ok := resp["id"].(string); ok && id != "" {
		order.ID = id
	} else {
		return ports.GatewayOrder{}, errors.New("invalid order response")
	}
	if a, ok := resp["amount"].(float64); ok {
		order.Amount = int64(a)
	}
	if c, ok := resp["currency"].(string); ok && c != "" {
		order.Currency = c
	}
	return order, nil
}

func (g *RazorpayGateway) doRequest(ctx context.Context, method, endpoint string, payload map[string]interface{}) (map[string]interface{}, error) {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(g.config.KeyID, g.config.KeySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("razorpay API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// parseSubscription extracts the fields we track from a Razorpay
// subscription entity. current_end arrives as a unix timestamp and may be
// null before the first charge.
func parseSubscription(resp map[string]interface{}) (ports.GatewaySubscription, error) {
	sub := ports.GatewaySubscription{}

	id, ok := resp["id"].(string)
	if !ok || id == "" {
		return ports.GatewaySubscription{}, errors.New("invalid subscription response")
	}
	sub.ID = id

	if planID, ok := resp["plan_id"].(string); ok {
		sub.PlanID = planID
	}
	if status, ok := resp["status"].(string); ok {
		sub.Status = status
	}
	if end, ok := resp["current_end"].(float64); ok && end > 0 {
		t := time.Unix(int64(end), 0).UTC()
		sub.CurrentEnd = &t
	}

	return sub, nil
}

var _ ports.PaymentGateway = (*RazorpayGateway)(nil)
