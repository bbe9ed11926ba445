package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/promptforge/tokengate/domain/billing"
	"github.com/promptforge/tokengate/ports"
)

// SubscriptionStore implements ports.SubscriptionStore using SQLite.
type SubscriptionStore struct {
	db    *DB
	clock ports.Clock
}

// NewSubscriptionStore creates a new SQLite subscription store.
func NewSubscriptionStore(db *DB, clock ports.Clock) *SubscriptionStore {
	return &SubscriptionStore{db: db, clock: clock}
}

const subscriptionColumns = `
	id, user_id, plan_id, tokens_per_period, price, currency,
	status, gateway_id, started_at, next_billing_at, created_at, updated_at`

// Get retrieves a subscription by internal ID.
func (s *SubscriptionStore) Get(ctx context.Context, id string) (billing.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = ?
	`, id)
	return scanSubscription(row)
}

// GetByGatewayID retrieves a subscription by its external gateway ID.
func (s *SubscriptionStore) GetByGatewayID(ctx context.Context, gatewayID string) (billing.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE gateway_id = ?
	`, gatewayID)
	return scanSubscription(row)
}

// GetActiveByUser retrieves the newest non-cancelled subscription for a user.
func (s *SubscriptionStore) GetActiveByUser(ctx context.Context, userID string) (billing.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = ? AND status IN ('created', 'active', 'past_due')
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	return scanSubscription(row)
}

// Create stores a new subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub billing.Subscription) error {
	now := s.clock.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID, sub.UserID, sub.PlanID, sub.TokensPerPeriod, sub.Price, sub.Currency,
		string(sub.Status), nullString(sub.GatewayID), sub.StartedAt, nullTime(sub.NextBillingAt),
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// Update persists status and next-billing changes.
func (s *SubscriptionStore) Update(ctx context.Context, sub billing.Subscription) error {
	sub.UpdatedAt = s.clock.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET plan_id = ?, tokens_per_period = ?, price = ?, currency = ?,
		    status = ?, gateway_id = ?, next_billing_at = ?, updated_at = ?
		WHERE id = ?
	`,
		sub.PlanID, sub.TokensPerPeriod, sub.Price, sub.Currency,
		string(sub.Status), nullString(sub.GatewayID), nullTime(sub.NextBillingAt),
		sub.UpdatedAt, sub.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubscription(row *sql.Row) (billing.Subscription, error) {
	var sub billing.Subscription
	var status string
	var gatewayID sql.NullString
	var nextBillingAt sql.NullTime

	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.TokensPerPeriod, &sub.Price, &sub.Currency,
		&status, &gatewayID, &sub.StartedAt, &nextBillingAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Subscription{}, ErrNotFound
	}
	if err != nil {
		return billing.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}

	sub.Status = billing.SubscriptionStatus(status)
	if gatewayID.Valid {
		sub.GatewayID = gatewayID.String
	}
	if nextBillingAt.Valid {
		t := nextBillingAt.Time
		sub.NextBillingAt = &t
	}
	return sub, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Ensure interface compliance.
var _ ports.SubscriptionStore = (*SubscriptionStore)(nil)
