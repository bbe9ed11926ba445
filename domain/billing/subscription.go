// Package billing provides subscription and plan value types and pure functions.
// The subscription lifecycle is a small state machine driven by gateway
// webhooks and the client-side verify flow; cancelled is absorbing.
package billing

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not allowed by the
// subscription state machine.
var ErrInvalidTransition = errors.New("invalid subscription transition")

// SubscriptionStatus represents subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusCreated   SubscriptionStatus = "created"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription represents a token subscription (value type).
// It is created in "created" status when the gateway subscription is opened
// and never deleted; cancellation is a status change.
type Subscription struct {
	ID              string
	UserID          string
	PlanID          string
	TokensPerPeriod int64
	Price           int64 // smallest currency unit
	Currency        string
	Status          SubscriptionStatus
	GatewayID       string // external subscription id at the payment gateway
	StartedAt       time.Time
	NextBillingAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsActive returns true if the subscription currently entitles token grants.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// CanTransition reports whether the state machine allows moving from one
// status to another. Active->Active is the renewal self-transition.
// This is a PURE function.
func CanTransition(from, to SubscriptionStatus) bool {
	switch from {
	case SubscriptionStatusCreated:
		return to == SubscriptionStatusActive || to == SubscriptionStatusCancelled
	case SubscriptionStatusActive:
		return to == SubscriptionStatusActive ||
			to == SubscriptionStatusPastDue ||
			to == SubscriptionStatusCancelled
	case SubscriptionStatusPastDue:
		return to == SubscriptionStatusActive || to == SubscriptionStatusCancelled
	case SubscriptionStatusCancelled:
		return false
	}
	return false
}

// Transition returns a copy of the subscription moved to the given status,
// or ErrInvalidTransition when the state machine forbids it.
func (s Subscription) Transition(to SubscriptionStatus, at time.Time) (Subscription, error) {
	if !CanTransition(s.Status, to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = at
	return s, nil
}

// Renew applies a successful recurring charge: the subscription stays (or
// becomes) active and the next billing time advances when the gateway
// reported one.
func (s Subscription) Renew(nextBillingAt *time.Time, at time.Time) (Subscription, error) {
	out, err := s.Transition(SubscriptionStatusActive, at)
	if err != nil {
		return s, err
	}
	if nextBillingAt != nil {
		out.NextBillingAt = nextBillingAt
	}
	return out, nil
}

// MapGatewayStatus converts a gateway-reported subscription status to the
// local state machine vocabulary. Halted and paused subscriptions are
// treated as cancelled: no further grants. This is a PURE function.
func MapGatewayStatus(s string) SubscriptionStatus {
	switch s {
	case "created", "authenticated", "pending":
		return SubscriptionStatusCreated
	case "active":
		return SubscriptionStatusActive
	case "past_due":
		return SubscriptionStatusPastDue
	case "cancelled", "halted", "paused", "expired", "completed":
		return SubscriptionStatusCancelled
	default:
		return SubscriptionStatusCreated
	}
}
