package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/promptforge/tokengate/config"
	"github.com/promptforge/tokengate/domain/billing"
	"github.com/promptforge/tokengate/domain/ledger"
	"github.com/promptforge/tokengate/domain/signature"
	"github.com/promptforge/tokengate/ports"
)

// Webhook processing outcomes, reported for metrics and logging.
const (
	OutcomeProcessed  = "processed"
	OutcomeDuplicate  = "duplicate"
	OutcomeIgnored    = "ignored"
	OutcomeUnknownSub = "unknown_subscription"
	OutcomeMalformed  = "malformed"
)

// Ack describes how a webhook delivery was handled. It is returned alongside
// a nil error whenever the gateway should stop retrying.
type Ack struct {
	Event          string
	Outcome        string
	TokensCredited int64
}

// WebhookService processes signed gateway events. Idempotency is delegated
// entirely to the ledger's externalRef check; the service holds no dedupe
// state of its own.
type WebhookService struct {
	cfg           *config.Holder
	subscriptions ports.SubscriptionStore
	tokens        ports.LedgerStore
	clock         ports.Clock
	logger        zerolog.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(
	cfg *config.Holder,
	subscriptions ports.SubscriptionStore,
	tokens ports.LedgerStore,
	clock ports.Clock,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		cfg:           cfg,
		subscriptions: subscriptions,
		tokens:        tokens,
		clock:         clock,
		logger:        logger,
	}
}

// webhookEvent is the gateway's event envelope.
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Subscription struct {
			Entity subscriptionEntity `json:"entity"`
		} `json:"subscription"`
		Invoice struct {
			Entity invoiceEntity `json:"entity"`
		} `json:"invoice"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID             string       `json:"id"`
	OrderID        string       `json:"order_id"`
	SubscriptionID string       `json:"subscription_id"`
	Status         string       `json:"status"`
	Amount         int64        `json:"amount"`
	Notes          paymentNotes `json:"notes"`
}

type subscriptionEntity struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	CurrentEnd int64  `json:"current_end"`
}

type invoiceEntity struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
}

// paymentNotes tolerates the gateway serializing empty notes as [] instead
// of {}.
type paymentNotes map[string]string

func (n *paymentNotes) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		*n = nil
		return nil
	}
	*n = m
	return nil
}

// Handle verifies and processes one webhook delivery. The raw body must be
// the exact bytes the gateway sent; the signature is computed over them.
//
// A nil error means the delivery should be acknowledged with 200, including
// recognized-but-irrelevant events. ErrInvalidSignature means reject without
// any state change. Any other error is a retryable internal failure: the
// gateway redelivers, and the ledger's externalRef check makes the retry safe.
func (s *WebhookService) Handle(ctx context.Context, rawBody []byte, sig string) (Ack, error) {
	cfg := s.cfg.Get()

	if !signature.Verify(rawBody, sig, cfg.Gateway.WebhookSecret) {
		s.logger.Warn().Msg("webhook signature rejected")
		return Ack{Outcome: OutcomeMalformed}, ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		// Signed but unparsable: retrying will not help, acknowledge.
		s.logger.Error().Err(err).Msg("webhook body unparsable")
		return Ack{Outcome: OutcomeMalformed}, nil
	}

	switch event.Event {
	case "subscription.charged", "invoice.paid":
		return s.handleCharge(ctx, event)

	case "subscription.cancelled", "subscription.halted", "subscription.paused",
		"subscription.completed", "subscription.expired":
		return s.handleCancellation(ctx, event)

	case "payment.captured", "order.paid":
		return s.handleTopup(ctx, event)

	default:
		s.logger.Info().Str("event", event.Event).Msg("webhook event ignored")
		return Ack{Event: event.Event, Outcome: OutcomeIgnored}, nil
	}
}

// handleCharge processes activation and renewal charges: one idempotent
// credit keyed by the payment id, then the subscription moves (back) to
// Active with nextBillingAt advanced from the gateway's current_end.
func (s *WebhookService) handleCharge(ctx context.Context, event webhookEvent) (Ack, error) {
	gwSub := event.Payload.Subscription.Entity
	gatewaySubID := gwSub.ID
	if gatewaySubID == "" {
		gatewaySubID = event.Payload.Invoice.Entity.SubscriptionID
	}
	if gatewaySubID == "" {
		gatewaySubID = event.Payload.Payment.Entity.SubscriptionID
	}

	ref := chargeRef(event)
	if gatewaySubID == "" || ref == "" {
		s.logger.Warn().Str("event", event.Event).Msg("charge event missing subscription or payment id")
		return Ack{Event: event.Event, Outcome: OutcomeMalformed}, nil
	}

	sub, err := s.subscriptions.GetByGatewayID(ctx, gatewaySubID)
	if errors.Is(err, ports.ErrNotFound) {
		s.logger.Warn().
			Str("gateway_subscription_id", gatewaySubID).
			Msg("charge for unknown subscription, acknowledged")
		return Ack{Event: event.Event, Outcome: OutcomeUnknownSub}, nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("load subscription: %w", err)
	}

	if sub.Status == billing.SubscriptionStatusCancelled {
		// Absorbing state: no revival and no credit for a late charge.
		s.logger.Warn().
			Str("subscription_id", sub.ID).
			Str("ref", ref).
			Msg("charge for cancelled subscription, acknowledged")
		return Ack{Event: event.Event, Outcome: OutcomeIgnored}, nil
	}

	reason := ledger.ReasonSubscriptionRenewal
	if sub.Status == billing.SubscriptionStatusCreated {
		reason = ledger.ReasonSubscriptionActivated
	}

	res, err := s.tokens.Credit(ctx, sub.UserID, sub.TokensPerPeriod, reason, ref, map[string]string{
		"subscription_id": sub.ID,
	})
	if err != nil {
		return Ack{}, fmt.Errorf("credit tokens: %w", err)
	}

	var nextBilling *time.Time
	if gwSub.CurrentEnd > 0 {
		t := time.Unix(gwSub.CurrentEnd, 0).UTC()
		nextBilling = &t
	}
	updated, err := sub.Renew(nextBilling, s.clock.Now().UTC())
	if err != nil {
		return Ack{}, err
	}
	if err := s.subscriptions.Update(ctx, updated); err != nil {
		return Ack{}, fmt.Errorf("update subscription: %w", err)
	}

	outcome := OutcomeProcessed
	credited := sub.TokensPerPeriod
	if !res.Applied {
		outcome = OutcomeDuplicate
		credited = 0
	}

	s.logger.Info().
		Str("event", event.Event).
		Str("subscription_id", sub.ID).
		Str("ref", ref).
		Bool("applied", res.Applied).
		Msg("subscription charge processed")

	return Ack{Event: event.Event, Outcome: outcome, TokensCredited: credited}, nil
}

func (s *WebhookService) handleCancellation(ctx context.Context, event webhookEvent) (Ack, error) {
	gatewaySubID := event.Payload.Subscription.Entity.ID
	if gatewaySubID == "" {
		s.logger.Warn().Str("event", event.Event).Msg("cancellation event missing subscription id")
		return Ack{Event: event.Event, Outcome: OutcomeMalformed}, nil
	}

	sub, err := s.subscriptions.GetByGatewayID(ctx, gatewaySubID)
	if errors.Is(err, ports.ErrNotFound) {
		s.logger.Warn().
			Str("gateway_subscription_id", gatewaySubID).
			Msg("cancellation for unknown subscription, acknowledged")
		return Ack{Event: event.Event, Outcome: OutcomeUnknownSub}, nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("load subscription: %w", err)
	}

	if sub.Status == billing.SubscriptionStatusCancelled {
		return Ack{Event: event.Event, Outcome: OutcomeDuplicate}, nil
	}

	updated, err := sub.Transition(billing.SubscriptionStatusCancelled, s.clock.Now().UTC())
	if err != nil {
		return Ack{}, err
	}
	if err := s.subscriptions.Update(ctx, updated); err != nil {
		return Ack{}, fmt.Errorf("update subscription: %w", err)
	}

	s.logger.Info().
		Str("event", event.Event).
		Str("subscription_id", sub.ID).
		Msg("subscription cancelled by gateway event")

	return Ack{Event: event.Event, Outcome: OutcomeProcessed}, nil
}

// handleTopup credits a one-time purchase. The user id and token amount ride
// in the order notes the client-side flow attached when the order was created.
func (s *WebhookService) handleTopup(ctx context.Context, event webhookEvent) (Ack, error) {
	payment := event.Payload.Payment.Entity

	if payment.SubscriptionID != "" {
		// Subscription charges surface separately as subscription.charged.
		return Ack{Event: event.Event, Outcome: OutcomeIgnored}, nil
	}

	userID := payment.Notes["user_id"]
	tokens, err := strconv.ParseInt(payment.Notes["tokens"], 10, 64)
	if userID == "" || err != nil || tokens <= 0 {
		s.logger.Info().
			Str("event", event.Event).
			Str("payment_id", payment.ID).
			Msg("payment without top-up notes, acknowledged")
		return Ack{Event: event.Event, Outcome: OutcomeIgnored}, nil
	}
	if payment.ID == "" {
		return Ack{Event: event.Event, Outcome: OutcomeMalformed}, nil
	}

	res, err := s.tokens.Credit(ctx, userID, tokens, ledger.ReasonOneTimeTopup, payment.ID, map[string]string{
		"order_id": payment.OrderID,
	})
	if err != nil {
		return Ack{}, fmt.Errorf("credit top-up: %w", err)
	}

	outcome := OutcomeProcessed
	credited := tokens
	if !res.Applied {
		outcome = OutcomeDuplicate
		credited = 0
	}

	s.logger.Info().
		Str("event", event.Event).
		Str("user_id", userID).
		Str("payment_id", payment.ID).
		Int64("tokens", tokens).
		Bool("applied", res.Applied).
		Msg("top-up processed")

	return Ack{Event: event.Event, Outcome: outcome, TokensCredited: credited}, nil
}

// chargeRef picks the canonical idempotency reference for a charge event:
// the payment id when present, otherwise the invoice id. The verify path
// uses the same convention, so whichever path lands first wins.
func chargeRef(event webhookEvent) string {
	if id := event.Payload.Payment.Entity.ID; id != "" {
		return id
	}
	return event.Payload.Invoice.Entity.ID
}
