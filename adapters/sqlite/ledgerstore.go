package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/promptforge/tokengate/domain/ledger"
	"github.com/promptforge/tokengate/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite.
// Balance mutation and transaction append happen inside one SQL transaction;
// the partial unique index on external_ref is what makes Credit idempotent
// even under concurrent delivery of the same payment event.
type LedgerStore struct {
	db    *DB
	idGen ports.IDGenerator
	clock ports.Clock
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB, idGen ports.IDGenerator, clock ports.Clock) *LedgerStore {
	return &LedgerStore{db: db, idGen: idGen, clock: clock}
}

// GetBalance returns the user's balance, or a zero balance if none exists yet.
func (s *LedgerStore) GetBalance(ctx context.Context, userID string) (ledger.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, tokens, free_trial_used, updated_at
		FROM token_balances
		WHERE user_id = ?
	`, userID)

	var b ledger.Balance
	var trialUsed int
	err := row.Scan(&b.UserID, &b.Tokens, &trialUsed, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{UserID: userID}, nil
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	b.FreeTrialUsed = trialUsed == 1
	return b, nil
}

// Credit atomically increments the balance and appends a credit transaction.
// A credit whose externalRef was already recorded is a no-op returning the
// current balance with Applied=false.
func (s *LedgerStore) Credit(ctx context.Context, userID string, amount int64, reason, externalRef string, metadata map[string]string) (ledger.CreditResult, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return ledger.CreditResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.CreditResult{}, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback()

	if externalRef != "" {
		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM token_transactions WHERE external_ref = ?
		`, externalRef).Scan(&exists)
		if err != nil {
			return ledger.CreditResult{}, fmt.Errorf("check external ref: %w", err)
		}
		if exists > 0 {
			tokens, err := currentTokens(ctx, tx, userID)
			if err != nil {
				return ledger.CreditResult{}, err
			}
			return ledger.CreditResult{Tokens: tokens, Applied: false}, nil
		}
	}

	now := s.clock.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_balances (user_id, tokens, free_trial_used, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			tokens = tokens + excluded.tokens,
			updated_at = excluded.updated_at
	`, userID, amount, now)
	if err != nil {
		return ledger.CreditResult{}, fmt.Errorf("upsert balance: %w", err)
	}

	if err := s.insertTransaction(ctx, tx, userID, ledger.KindCredit, amount, reason, externalRef, metadata, now); err != nil {
		if errors.Is(err, ledger.ErrDuplicateRef) {
			// Lost the race against a concurrent delivery of the same event:
			// roll back our increment and report the already-applied state.
			tx.Rollback()
			b, getErr := s.GetBalance(ctx, userID)
			if getErr != nil {
				return ledger.CreditResult{}, getErr
			}
			return ledger.CreditResult{Tokens: b.Tokens, Applied: false}, nil
		}
		return ledger.CreditResult{}, err
	}

	tokens, err := currentTokens(ctx, tx, userID)
	if err != nil {
		return ledger.CreditResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ledger.CreditResult{}, fmt.Errorf("commit credit: %w", err)
	}
	return ledger.CreditResult{Tokens: tokens, Applied: true}, nil
}

// Debit atomically decrements the balance and appends a debit transaction.
// The guarded UPDATE leaves everything untouched when the balance is too low.
func (s *LedgerStore) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback()

	now := s.clock.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE token_balances
		SET tokens = tokens - ?, updated_at = ?
		WHERE user_id = ? AND tokens >= ?
	`, amount, now, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	if affected == 0 {
		// Covers both a missing balance row and an insufficient one.
		return 0, ledger.ErrInsufficientTokens
	}

	if err := s.insertTransaction(ctx, tx, userID, ledger.KindDebit, amount, reason, "", nil, now); err != nil {
		return 0, err
	}

	tokens, err := currentTokens(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit debit: %w", err)
	}
	return tokens, nil
}

// GrantFreeTrial credits the trial amount and marks the trial used in one
// atomic step. Repeat claims return ledger.ErrTrialAlreadyUsed.
func (s *LedgerStore) GrantFreeTrial(ctx context.Context, userID string, amount int64) (int64, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin trial grant: %w", err)
	}
	defer tx.Rollback()

	now := s.clock.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO token_balances (user_id, tokens, free_trial_used, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			tokens = tokens + excluded.tokens,
			free_trial_used = 1,
			updated_at = excluded.updated_at
		WHERE token_balances.free_trial_used = 0
	`, userID, amount, now)
	if err != nil {
		return 0, fmt.Errorf("grant trial: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("grant trial: %w", err)
	}
	if affected == 0 {
		return 0, ledger.ErrTrialAlreadyUsed
	}

	if err := s.insertTransaction(ctx, tx, userID, ledger.KindCredit, amount, ledger.ReasonFreeTrial, "", nil, now); err != nil {
		return 0, err
	}

	tokens, err := currentTokens(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit trial grant: %w", err)
	}
	return tokens, nil
}

// History returns the user's transactions, newest first.
func (s *LedgerStore) History(ctx context.Context, userID string, limit, offset int) ([]ledger.Transaction, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, reason, external_ref, metadata, created_at
		FROM token_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var kind string
		var externalRef, metadata sql.NullString

		if err := rows.Scan(&t.ID, &t.UserID, &kind, &t.Amount, &t.Reason, &externalRef, &metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = ledger.Kind(kind)
		if externalRef.Valid {
			t.ExternalRef = externalRef.String
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *LedgerStore) insertTransaction(ctx context.Context, tx *sql.Tx, userID string, kind ledger.Kind, amount int64, reason, externalRef string, metadata map[string]string, now time.Time) error {
	var meta sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO token_transactions (id, user_id, kind, amount, reason, external_ref, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.idGen.New(), userID, string(kind), amount, reason, nullString(externalRef), meta, now)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateRef
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func currentTokens(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var tokens int64
	err := tx.QueryRowContext(ctx, `
		SELECT tokens FROM token_balances WHERE user_id = ?
	`, userID).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return tokens, nil
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
