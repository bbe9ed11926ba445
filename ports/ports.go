// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/promptforge/tokengate/domain/billing"
	"github.com/promptforge/tokengate/domain/ledger"
)

// ErrNotFound is returned when an entity is not found.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint is violated.
var ErrDuplicate = errors.New("already exists")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// LedgerStore persists token balances and the append-only transaction log.
// Credit and Debit for the same user must serialize at the storage layer so
// the balance never goes negative and no mutation is lost; calls for
// different users must not block each other behind an application lock.
type LedgerStore interface {
	// GetBalance returns the user's balance, or a zero balance if none exists yet.
	GetBalance(ctx context.Context, userID string) (ledger.Balance, error)

	// Credit atomically increments the balance (creating it if absent) and
	// appends a credit transaction. When externalRef is non-empty and a
	// transaction with that reference already exists, Credit is a no-op that
	// returns the current balance with Applied=false; callers treat that as
	// success, not as an error.
	Credit(ctx context.Context, userID string, amount int64, reason, externalRef string, metadata map[string]string) (ledger.CreditResult, error)

	// Debit atomically decrements the balance and appends a debit transaction.
	// Returns ledger.ErrInsufficientTokens, leaving all state unchanged, when
	// the balance is lower than amount.
	Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error)

	// GrantFreeTrial credits the one-time trial amount and marks the trial
	// used, atomically. Returns ledger.ErrTrialAlreadyUsed on repeat claims.
	GrantFreeTrial(ctx context.Context, userID string, amount int64) (int64, error)

	// History returns the user's transactions, newest first.
	History(ctx context.Context, userID string, limit, offset int) ([]ledger.Transaction, error)
}

// SubscriptionStore persists subscription records. Subscriptions are never
// deleted; cancellation is a status update.
type SubscriptionStore interface {
	// Get retrieves a subscription by internal ID.
	Get(ctx context.Context, id string) (billing.Subscription, error)

	// GetByGatewayID retrieves a subscription by its external gateway ID.
	GetByGatewayID(ctx context.Context, gatewayID string) (billing.Subscription, error)

	// GetActiveByUser retrieves the newest non-cancelled subscription for a user.
	GetActiveByUser(ctx context.Context, userID string) (billing.Subscription, error)

	// Create stores a new subscription.
	Create(ctx context.Context, sub billing.Subscription) error

	// Update persists status and next-billing changes.
	Update(ctx context.Context, sub billing.Subscription) error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// GatewaySubscription is the gateway's view of a subscription.
type GatewaySubscription struct {
	ID         string
	PlanID     string
	Status     string
	CurrentEnd *time.Time
}

// GatewayOrder is a one-time top-up order at the gateway.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
}

// PaymentGateway is the outbound contract to the payment provider.
// All calls carry bounded timeouts via ctx; a timeout is retryable.
type PaymentGateway interface {
	// Name returns the gateway identifier ("razorpay", "dummy", "none").
	Name() string

	// PublicKeyID returns the publishable key clients use for checkout.
	PublicKeyID() string

	// CreateSubscription opens a recurring subscription for a gateway plan.
	CreateSubscription(ctx context.Context, gatewayPlanID string, totalCount int) (GatewaySubscription, error)

	// FetchSubscription reads the gateway's current view of a subscription.
	FetchSubscription(ctx context.Context, gatewayID string) (GatewaySubscription, error)

	// CancelSubscription cancels the subscription at the gateway.
	CancelSubscription(ctx context.Context, gatewayID string) error

	// CreateOrder opens a one-time order; notes come back verbatim on the
	// payment.captured webhook and carry the top-up metadata.
	CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (GatewayOrder, error)
}
