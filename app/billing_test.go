package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/promptforge/tokengate/adapters/clock"
	"github.com/promptforge/tokengate/adapters/idgen"
	"github.com/promptforge/tokengate/adapters/memory"
	"github.com/promptforge/tokengate/config"
	"github.com/promptforge/tokengate/domain/billing"
	"github.com/promptforge/tokengate/domain/signature"
	"github.com/promptforge/tokengate/ports"
)

// Mock gateway for testing

type mockGateway struct {
	name         string
	keyID        string
	createErr    error
	fetchStatus  string
	fetchErr     error
	cancelErr    error
	cancelled    []string
	createdSubs  int
	createdOrder ports.GatewayOrder
	orderNotes   map[string]string
}

func (m *mockGateway) Name() string {
	if m.name == "" {
		return "razorpay"
	}
	return m.name
}

func (m *mockGateway) PublicKeyID() string { return m.keyID }

func (m *mockGateway) CreateSubscription(ctx context.Context, gatewayPlanID string, totalCount int) (ports.GatewaySubscription, error) {
	if m.createErr != nil {
		return ports.GatewaySubscription{}, m.createErr
	}
	m.createdSubs++
	return ports.GatewaySubscription{ID: "sub_gw_1", PlanID: gatewayPlanID, Status: "created"}, nil
}

func (m *mockGateway) FetchSubscription(ctx context.Context, gatewayID string) (ports.GatewaySubscription, error) {
	if m.fetchErr != nil {
		return ports.GatewaySubscription{}, m.fetchErr
	}
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	return ports.GatewaySubscription{ID: gatewayID, Status: m.fetchStatus, CurrentEnd: &end}, nil
}

func (m *mockGateway) CancelSubscription(ctx context.Context, gatewayID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, gatewayID)
	return nil
}

func (m *mockGateway) CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (ports.GatewayOrder, error) {
	m.orderNotes = notes
	m.createdOrder = ports.GatewayOrder{ID: "order_gw_1", Amount: amount, Currency: currency}
	return m.createdOrder, nil
}

var _ ports.PaymentGateway = (*mockGateway)(nil)

const testKeySecret = "key_secret_test"

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			Mode:          "razorpay",
			KeyID:         "rzp_test_abc",
			KeySecret:     testKeySecret,
			WebhookSecret: "whsec_test",
		},
		Ledger: config.LedgerConfig{FreeTrialTokens: 1000, HistoryPageSize: 20},
		Plans: []config.PlanConfig{
			{Key: "pro", GatewayPlanID: "plan_pro", Price: 49900, Currency: "INR", TokensPerPeriod: 600000, Label: "Pro"},
			{Key: "unmapped", Price: 900, Currency: "INR", TokensPerPeriod: 10000, Label: "Unmapped"},
		},
	}
}

type billingFixture struct {
	svc     *BillingService
	subs    *memory.SubscriptionStore
	tokens  *memory.LedgerStore
	gateway *mockGateway
}

func newBillingFixture(gateway *mockGateway) billingFixture {
	holder := config.NewStaticHolder(testConfig())
	subs := memory.NewSubscriptionStore()
	tokens := memory.NewLedgerStore(idgen.NewSequential("tx-"), clock.System{})
	svc := NewBillingService(holder, subs, tokens, gateway, idgen.NewSequential("sub-"), clock.System{}, zerolog.Nop())
	return billingFixture{svc: svc, subs: subs, tokens: tokens, gateway: gateway}
}

func TestBillingService_CreateSubscription(t *testing.T) {
	f := newBillingFixture(&mockGateway{keyID: "rzp_test_abc"})
	ctx := context.Background()

	res, err := f.svc.CreateSubscription(ctx, "user-1", "pro")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.GatewaySubscriptionID != "sub_gw_1" {
		t.Errorf("gateway sub id = %s", res.GatewaySubscriptionID)
	}
	if res.GatewayPublicKey != "rzp_test_abc" {
		t.Errorf("public key = %s", res.GatewayPublicKey)
	}
	if res.PlanLabel != "Pro" {
		t.Errorf("label = %s", res.PlanLabel)
	}

	sub, err := f.subs.GetByGatewayID(ctx, "sub_gw_1")
	if err != nil {
		t.Fatalf("persisted sub: %v", err)
	}
	if sub.Status != billing.SubscriptionStatusCreated {
		t.Errorf("status = %s, want created", sub.Status)
	}
	if sub.TokensPerPeriod != 600000 {
		t.Errorf("tokens per period = %d", sub.TokensPerPeriod)
	}

	// No tokens yet: crediting waits for payment confirmation.
	b, _ := f.tokens.GetBalance(ctx, "user-1")
	if b.Tokens != 0 {
		t.Errorf("balance = %d, want 0 before payment", b.Tokens)
	}
}

func TestBillingService_CreateSubscription_PlanNotFound(t *testing.T) {
	f := newBillingFixture(&mockGateway{})

	_, err := f.svc.CreateSubscription(context.Background(), "user-1", "enterprise")
	if !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("err = %v, want ErrPlanNotFound", err)
	}
}

func TestBillingService_CreateSubscription_GatewayNotConfigured(t *testing.T) {
	f := newBillingFixture(&mockGateway{})

	// Plan exists but has no gateway plan mapping.
	_, err := f.svc.CreateSubscription(context.Background(), "user-1", "unmapped")
	if !errors.Is(err, ErrGatewayNotConfigured) {
		t.Errorf("unmapped plan: err = %v, want ErrGatewayNotConfigured", err)
	}

	f = newBillingFixture(&mockGateway{name: "none"})
	_, err = f.svc.CreateSubscription(context.Background(), "user-1", "pro")
	if !errors.Is(err, ErrGatewayNotConfigured) {
		t.Errorf("no gateway: err = %v, want ErrGatewayNotConfigured", err)
	}
}

func TestBillingService_VerifySubscription_ActivatesAndCredits(t *testing.T) {
	f := newBillingFixture(&mockGateway{fetchStatus: "active"})
	ctx := context.Background()

	if _, err := f.svc.CreateSubscription(ctx, "user-1", "pro"); err != nil {
		t.Fatalf("create: %v", err)
	}

	sig := signature.Sign([]byte("sub_gw_1|pay_1"), testKeySecret)
	res, err := f.svc.VerifySubscription(ctx, "user-1", "sub_gw_1", "pay_1", sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Activated || res.TokensCredited != 600000 {
		t.Errorf("result = %+v, want activated with 600000 credited", res)
	}

	sub, _ := f.subs.GetByGatewayID(ctx, "sub_gw_1")
	if sub.Status != billing.SubscriptionStatusActive {
		t.Errorf("status = %s, want active", sub.Status)
	}
	if sub.NextBillingAt == nil {
		t.Error("next billing should be set from gateway current_end")
	}
}

func TestBillingService_VerifySubscription_Idempotent(t *testing.T) {
	f := newBillingFixture(&mockGateway{fetchStatus: "active"})
	ctx := context.Background()

	f.svc.CreateSubscription(ctx, "user-1", "pro")

	sig := signature.Sign([]byte("sub_gw_1|pay_1"), testKeySecret)
	if _, err := f.svc.VerifySubscription(ctx, "user-1", "sub_gw_1", "pay_1", sig); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	// Second confirmation of the same payment: safe no-op.
	res, err := f.svc.VerifySubscription(ctx, "user-1", "sub_gw_1", "pay_1", sig)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if res.TokensCredited != 0 {
		t.Errorf("credited = %d, want 0 on duplicate", res.TokensCredited)
	}

	b, _ := f.tokens.GetBalance(ctx, "user-1")
	if b.Tokens != 600000 {
		t.Errorf("balance = %d, want exactly 600000", b.Tokens)
	}
}

func TestBillingService_VerifySubscription_BadSignature(t *testing.T) {
	f := newBillingFixture(&mockGateway{fetchStatus: "active"})
	ctx := context.Background()

	f.svc.CreateSubscription(ctx, "user-1", "pro")

	_, err := f.svc.VerifySubscription(ctx, "user-1", "sub_gw_1", "pay_1", "deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}

	// Nothing credited, nothing activated.
	b, _ := f.tokens.GetBalance(ctx, "user-1")
	if b.Tokens != 0 {
		t.Errorf("balance = %d, want 0", b.Tokens)
	}
	sub, _ := f.subs.GetByGatewayID(ctx, "sub_gw_1")
	if sub.Status != billing.SubscriptionStatusCreated {
		t.Errorf("status = %s, want created", sub.Status)
	}
}

func TestBillingService_VerifySubscription_WrongUser(t *testing.T) {
	f := newBillingFixture(&mockGateway{fetchStatus: "active"})
	ctx := context.Background()

	f.svc.CreateSubscription(ctx, "user-1", "pro")

	sig := signature.Sign([]byte("sub_gw_1|pay_1"), testKeySecret)
	_, err := f.svc.VerifySubscription(ctx, "user-2", "sub_gw_1", "pay_1", sig)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBillingService_VerifySubscription_GatewayNotActive(t *testing.T) {
	f := newBillingFixture(&mockGateway{fetchStatus: "pending"})
	ctx := context.Background()

	f.svc.CreateSubscription(ctx, "user-1", "pro")

	sig := signature.Sign([]byte("sub_gw_1|pay_1"), testKeySecret)
	res, err := f.svc.VerifySubscription(ctx, "user-1", "sub_gw_1", "pay_1", sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Activated {
		t.Error("should not activate while gateway reports pending")
	}

	b, _ := f.tokens.GetBalance(ctx, "user-1")
	if b.Tokens != 0 {
		t.Errorf("balance = %d, want 0", b.Tokens)
	}
}

func TestBillingService_CancelSubscription(t *testing.T) {
	gw := &mockGateway{fetchStatus: "active"}
	f := newBillingFixture(gw)
	ctx := context.Background()

	f.svc.CreateSubscription(ctx, "user-1", "pro")
	sig := signature.Sign([]byte("sub_gw_1|pay_1"), testKeySecret)
	f.svc.VerifySubscription(ctx, "user-1", "sub_gw_1", "pay_1", sig)

	if err := f.svc.CancelSubscription(ctx, "user-1", "sub_gw_1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(gw.cancelled) != 1 || gw.cancelled[0] != "sub_gw_1" {
		t.Errorf("gateway cancels = %v", gw.cancelled)
	}

	sub, _ := f.subs.GetByGatewayID(ctx, "sub_gw_1")
	if sub.Status != billing.SubscriptionStatusCancelled {
		t.Errorf("status = %s, want cancelled", sub.Status)
	}

	// Tokens already granted are kept.
	b, _ := f.tokens.GetBalance(ctx, "user-1")
	if b.Tokens != 600000 {
		t.Errorf("balance = %d, want 600000 after cancel", b.Tokens)
	}
}

func TestBillingService_CancelSubscription_GatewayFailureKeepsState(t *testing.T) {
	gw := &mockGateway{fetchStatus: "active", cancelErr: errors.New("gateway timeout")}
	f := newBillingFixture(gw)
	ctx := context.Background()

	f.svc.CreateSubscription(ctx, "user-1", "pro")

	if err := f.svc.CancelSubscription(ctx, "user-1", "sub_gw_1"); err == nil {
		t.Fatal("expected error when gateway cancel fails")
	}

	sub, _ := f.subs.GetByGatewayID(ctx, "sub_gw_1")
	if sub.Status == billing.SubscriptionStatusCancelled {
		t.Error("local state must not change when the gateway call fails")
	}
}

func TestBillingService_CreateTopupOrder(t *testing.T) {
	gw := &mockGateway{keyID: "rzp_test_abc"}
	f := newBillingFixture(gw)

	order, err := f.svc.CreateTopupOrder(context.Background(), "user-1", 50000, 9900, "")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.OrderID != "order_gw_1" || order.Currency != "INR" {
		t.Errorf("order = %+v", order)
	}
	if gw.orderNotes["user_id"] != "user-1" || gw.orderNotes["tokens"] != "50000" {
		t.Errorf("notes = %v, want user and token metadata", gw.orderNotes)
	}
}

func TestBillingService_CreateTopupOrder_InvalidAmounts(t *testing.T) {
	f := newBillingFixture(&mockGateway{})

	if _, err := f.svc.CreateTopupOrder(context.Background(), "user-1", 0, 9900, "INR"); err == nil {
		t.Error("expected error for zero tokens")
	}
	if _, err := f.svc.CreateTopupOrder(context.Background(), "user-1", 1000, -1, "INR"); err == nil {
		t.Error("expected error for negative amount")
	}
}
