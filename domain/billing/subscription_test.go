package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/tokengate/domain/billing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to billing.SubscriptionStatus
		want     bool
	}{
		{billing.SubscriptionStatusCreated, billing.SubscriptionStatusActive, true},
		{billing.SubscriptionStatusCreated, billing.SubscriptionStatusCancelled, true},
		{billing.SubscriptionStatusCreated, billing.SubscriptionStatusPastDue, false},
		{billing.SubscriptionStatusActive, billing.SubscriptionStatusActive, true}, // renewal
		{billing.SubscriptionStatusActive, billing.SubscriptionStatusPastDue, true},
		{billing.SubscriptionStatusActive, billing.SubscriptionStatusCancelled, true},
		{billing.SubscriptionStatusPastDue, billing.SubscriptionStatusActive, true},
		{billing.SubscriptionStatusPastDue, billing.SubscriptionStatusCancelled, true},
		{billing.SubscriptionStatusCancelled, billing.SubscriptionStatusActive, false},
		{billing.SubscriptionStatusCancelled, billing.SubscriptionStatusCancelled, false},
		{billing.SubscriptionStatusCancelled, billing.SubscriptionStatusCreated, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, billing.CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTransition(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sub := billing.Subscription{ID: "sub-1", Status: billing.SubscriptionStatusCreated}

	active, err := sub.Transition(billing.SubscriptionStatusActive, now)
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionStatusActive, active.Status)
	assert.Equal(t, now, active.UpdatedAt)

	// Original value is unchanged.
	assert.Equal(t, billing.SubscriptionStatusCreated, sub.Status)

	cancelled, err := active.Transition(billing.SubscriptionStatusCancelled, now)
	require.NoError(t, err)

	_, err = cancelled.Transition(billing.SubscriptionStatusActive, now)
	assert.ErrorIs(t, err, billing.ErrInvalidTransition)
}

func TestRenew(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := now.AddDate(0, 1, 0)

	sub := billing.Subscription{Status: billing.SubscriptionStatusActive}
	renewed, err := sub.Renew(&next, now)
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionStatusActive, renewed.Status)
	require.NotNil(t, renewed.NextBillingAt)
	assert.Equal(t, next, *renewed.NextBillingAt)

	// Renewal without a reported period end keeps the old one.
	again, err := renewed.Renew(nil, now)
	require.NoError(t, err)
	assert.Equal(t, next, *again.NextBillingAt)

	// Cancelled subscriptions cannot renew.
	dead := billing.Subscription{Status: billing.SubscriptionStatusCancelled}
	_, err = dead.Renew(&next, now)
	assert.ErrorIs(t, err, billing.ErrInvalidTransition)
}

func TestMapGatewayStatus(t *testing.T) {
	assert.Equal(t, billing.SubscriptionStatusActive, billing.MapGatewayStatus("active"))
	assert.Equal(t, billing.SubscriptionStatusCancelled, billing.MapGatewayStatus("halted"))
	assert.Equal(t, billing.SubscriptionStatusCancelled, billing.MapGatewayStatus("paused"))
	assert.Equal(t, billing.SubscriptionStatusCreated, billing.MapGatewayStatus("authenticated"))
	assert.Equal(t, billing.SubscriptionStatusCreated, billing.MapGatewayStatus("something_new"))
}

func TestFindPlan(t *testing.T) {
	plans := []billing.Plan{
		{Key: "basic199", TokensPerPeriod: 600000},
		{Key: "pro299", TokensPerPeriod: 1000000},
	}

	p, ok := billing.FindPlan(plans, "pro299")
	require.True(t, ok)
	assert.Equal(t, int64(1000000), p.TokensPerPeriod)

	_, ok = billing.FindPlan(plans, "enterprise")
	assert.False(t, ok)
}

func TestPlanConfigured(t *testing.T) {
	assert.False(t, billing.Plan{Key: "basic199"}.Configured())
	assert.True(t, billing.Plan{Key: "basic199", GatewayPlanID: "plan_abc"}.Configured())
}
