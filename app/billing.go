// Package app contains the orchestration services that tie the payment
// gateway to the ledger and subscription stores. All business rules live in
// domain/*; I/O happens at the edges via injected ports.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/promptforge/tokengate/config"
	"github.com/promptforge/tokengate/domain/billing"
	"github.com/promptforge/tokengate/domain/ledger"
	"github.com/promptforge/tokengate/domain/signature"
	"github.com/promptforge/tokengate/ports"
)

var (
	// ErrPlanNotFound is returned when a plan key is not in the catalog.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrGatewayNotConfigured is returned when a billing operation needs a
	// payment gateway and none is configured.
	ErrGatewayNotConfigured = errors.New("payment gateway not configured")

	// ErrInvalidSignature is returned when a payment confirmation or webhook
	// signature does not verify. No state is read or mutated in that case.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Billing cycles covered by a new gateway mandate.
const defaultTotalCount = 12

// BillingService implements the user-facing billing use cases: subscribe,
// verify payment, cancel, and one-time top-up orders.
type BillingService struct {
	cfg           *config.Holder
	subscriptions ports.SubscriptionStore
	tokens        ports.LedgerStore
	gateway       ports.PaymentGateway
	idGen         ports.IDGenerator
	clock         ports.Clock
	logger        zerolog.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(
	cfg *config.Holder,
	subscriptions ports.SubscriptionStore,
	tokens ports.LedgerStore,
	gateway ports.PaymentGateway,
	idGen ports.IDGenerator,
	clock ports.Clock,
	logger zerolog.Logger,
) *BillingService {
	return &BillingService{
		cfg:           cfg,
		subscriptions: subscriptions,
		tokens:        tokens,
		gateway:       gateway,
		idGen:         idGen,
		clock:         clock,
		logger:        logger,
	}
}

// CreateSubscriptionResult is returned to the client so it can open the
// gateway checkout.
type CreateSubscriptionResult struct {
	SubscriptionID        string
	GatewaySubscriptionID string
	GatewayPublicKey      string
	PlanKey               string
	PlanLabel             string
}

// CreateSubscription resolves the plan, opens a subscription at the gateway
// and persists it locally in Created status. No tokens are credited here:
// crediting happens only once a payment is confirmed, via the webhook or
// verify path.
func (s *BillingService) CreateSubscription(ctx context.Context, userID, planKey string) (CreateSubscriptionResult, error) {
	cfg := s.cfg.Get()

	plan, ok := billing.FindPlan(cfg.BillingPlans(), planKey)
	if !ok {
		return CreateSubscriptionResult{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planKey)
	}
	if !plan.Configured() || s.gateway.Name() == "none" {
		return CreateSubscriptionResult{}, ErrGatewayNotConfigured
	}

	gwSub, err := s.gateway.CreateSubscription(ctx, plan.GatewayPlanID, defaultTotalCount)
	if err != nil {
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Str("plan", planKey).
			Msg("gateway subscription create failed")
		return CreateSubscriptionResult{}, fmt.Errorf("create gateway subscription: %w", err)
	}

	now := s.clock.Now().UTC()
	sub := billing.Subscription{
		ID:              s.idGen.New(),
		UserID:          userID,
		PlanID:          plan.Key,
		TokensPerPeriod: plan.TokensPerPeriod,
		Price:           plan.Price,
		Currency:        plan.Currency,
		Status:          billing.SubscriptionStatusCreated,
		GatewayID:       gwSub.ID,
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.subscriptions.Create(ctx, sub); err != nil {
		return CreateSubscriptionResult{}, fmt.Errorf("persist subscription: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("plan", planKey).
		Str("gateway_subscription_id", gwSub.ID).
		Msg("subscription created")

	return CreateSubscriptionResult{
		SubscriptionID:        sub.ID,
		GatewaySubscriptionID: gwSub.ID,
		GatewayPublicKey:      s.gateway.PublicKeyID(),
		PlanKey:               plan.Key,
		PlanLabel:             plan.Label,
	}, nil
}

// VerifyResult reports the outcome of a client payment confirmation.
type VerifyResult struct {
	Activated      bool
	TokensCredited int64
	Tokens         int64
}

// VerifySubscription handles the client-side payment confirmation: it checks
// the confirmation signature, fetches the gateway's view of the subscription
// and, if the gateway reports it active, applies the same idempotent credit
// the webhook path applies, keyed by the payment id. Whichever path arrives
// first wins; the other is a safe no-op.
func (s *BillingService) VerifySubscription(ctx context.Context, userID, gatewaySubID, paymentID, sig string) (VerifyResult, error) {
	cfg := s.cfg.Get()

	if !signature.VerifyPayment(gatewaySubID, paymentID, sig, cfg.Gateway.KeySecret) {
		s.logger.Warn().
			Str("user_id", userID).
			Str("gateway_subscription_id", gatewaySubID).
			Msg("payment confirmation signature rejected")
		return VerifyResult{}, ErrInvalidSignature
	}

	sub, err := s.subscriptions.GetByGatewayID(ctx, gatewaySubID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load subscription: %w", err)
	}
	if sub.UserID != userID {
		return VerifyResult{}, ports.ErrNotFound
	}

	gwSub, err := s.gateway.FetchSubscription(ctx, gatewaySubID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("fetch gateway subscription: %w", err)
	}

	if billing.MapGatewayStatus(gwSub.Status) != billing.SubscriptionStatusActive {
		s.logger.Info().
			Str("gateway_subscription_id", gatewaySubID).
			Str("gateway_status", gwSub.Status).
			Msg("verify: gateway does not report subscription active")
		return VerifyResult{Activated: false}, nil
	}

	reason := ledger.ReasonSubscriptionRenewal
	if sub.Status == billing.SubscriptionStatusCreated {
		reason = ledger.ReasonSubscriptionActivated
	}

	res, err := s.tokens.Credit(ctx, userID, sub.TokensPerPeriod, reason, paymentID, map[string]string{
		"subscription_id": sub.ID,
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("credit tokens: %w", err)
	}

	now := s.clock.Now().UTC()
	updated, err := sub.Renew(gwSub.CurrentEnd, now)
	if err != nil {
		// The credit already landed (or was a duplicate); a forbidden
		// transition here means the subscription was cancelled meanwhile.
		s.logger.Warn().Err(err).
			Str("subscription_id", sub.ID).
			Msg("verify: subscription not activatable")
	} else if err := s.subscriptions.Update(ctx, updated); err != nil {
		return VerifyResult{}, fmt.Errorf("update subscription: %w", err)
	}

	credited := int64(0)
	if res.Applied {
		credited = sub.TokensPerPeriod
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("subscription_id", sub.ID).
		Str("payment_id", paymentID).
		Bool("applied", res.Applied).
		Msg("subscription verified")

	return VerifyResult{Activated: true, TokensCredited: credited, Tokens: res.Tokens}, nil
}

// ActiveSubscription returns the user's newest non-cancelled subscription.
func (s *BillingService) ActiveSubscription(ctx context.Context, userID string) (billing.Subscription, error) {
	sub, err := s.subscriptions.GetActiveByUser(ctx, userID)
	if err != nil {
		return billing.Subscription{}, fmt.Errorf("load active subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscription cancels at the gateway first, then marks the local
// subscription Cancelled. Already-credited tokens are kept.
func (s *BillingService) CancelSubscription(ctx context.Context, userID, gatewaySubID string) error {
	sub, err := s.subscriptions.GetByGatewayID(ctx, gatewaySubID)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub.UserID != userID {
		return ports.ErrNotFound
	}

	if err := s.gateway.CancelSubscription(ctx, gatewaySubID); err != nil {
		s.logger.Error().Err(err).
			Str("gateway_subscription_id", gatewaySubID).
			Msg("gateway cancel failed")
		return fmt.Errorf("cancel gateway subscription: %w", err)
	}

	updated, err := sub.Transition(billing.SubscriptionStatusCancelled, s.clock.Now().UTC())
	if err != nil {
		// Already cancelled locally; nothing to update.
		if sub.Status == billing.SubscriptionStatusCancelled {
			return nil
		}
		return err
	}
	if err := s.subscriptions.Update(ctx, updated); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("subscription_id", sub.ID).
		Msg("subscription cancelled")
	return nil
}

// TopupOrder is returned to the client so it can open the gateway checkout
// for a one-time purchase.
type TopupOrder struct {
	OrderID          string
	Amount           int64
	Currency         string
	Tokens           int64
	GatewayPublicKey string
}

// CreateTopupOrder opens a one-time gateway order for a token top-up. The
// order notes carry the user id and token amount; the credit itself lands
// only when the payment.captured webhook arrives, keyed by the payment id.
func (s *BillingService) CreateTopupOrder(ctx context.Context, userID string, tokens, amount int64, currency string) (TopupOrder, error) {
	if err := ledger.ValidateAmount(tokens); err != nil {
		return TopupOrder{}, err
	}
	if err := ledger.ValidateAmount(amount); err != nil {
		return TopupOrder{}, err
	}
	if s.gateway.Name() == "none" {
		return TopupOrder{}, ErrGatewayNotConfigured
	}
	if currency == "" {
		currency = "INR"
	}

	order, err := s.gateway.CreateOrder(ctx, amount, currency, map[string]string{
		"user_id": userID,
		"tokens":  strconv.FormatInt(tokens, 10),
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Int64("tokens", tokens).
			Msg("gateway order create failed")
		return TopupOrder{}, fmt.Errorf("create gateway order: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("order_id", order.ID).
		Int64("tokens", tokens).
		Msg("top-up order created")

	return TopupOrder{
		OrderID:          order.ID,
		Amount:           order.Amount,
		Currency:         order.Currency,
		Tokens:           tokens,
		GatewayPublicKey: s.gateway.PublicKeyID(),
	}, nil
}
