// Package ledger provides token balance and transaction value types and pure functions.
// The ledger is append-only: transactions are never updated or deleted, and the
// balance must always equal the sum of credits minus the sum of debits.
package ledger

import (
	"errors"
	"time"
)

// Sentinel errors returned by ledger stores. Callers branch on these with
// errors.Is rather than inspecting driver error strings.
var (
	// ErrInsufficientTokens is returned when a debit exceeds the current balance.
	// The balance and transaction log are left unchanged.
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrDuplicateRef is returned by store internals when a transaction with the
	// same external reference already exists. Credit converts this into an
	// applied=false result; it is not an error for callers.
	ErrDuplicateRef = errors.New("duplicate external reference")

	// ErrInvalidAmount is returned when a credit or debit amount is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrTrialAlreadyUsed is returned when a free trial grant was already claimed.
	ErrTrialAlreadyUsed = errors.New("free trial already used")
)

// Kind distinguishes ledger entry directions.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Well-known transaction reasons.
const (
	ReasonSubscriptionActivated = "subscription_activated"
	ReasonSubscriptionRenewal   = "subscription_renewal"
	ReasonOneTimeTopup          = "one_time_topup"
	ReasonFreeTrial             = "free_trial"
	ReasonAIUsage               = "ai_usage"
)

// Balance represents a user's token account (value type).
// Created lazily on first credit, mutated only through atomic store
// operations, never deleted.
type Balance struct {
	UserID        string
	Tokens        int64
	FreeTrialUsed bool
	UpdatedAt     time.Time
}

// Transaction is one immutable ledger entry.
// ExternalRef, when set, is the idempotency key: at most one transaction
// may carry a given reference.
type Transaction struct {
	ID          string
	UserID      string
	Kind        Kind
	Amount      int64
	Reason      string
	ExternalRef string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Signed returns the transaction amount with its sign applied.
func (t Transaction) Signed() int64 {
	if t.Kind == KindDebit {
		return -t.Amount
	}
	return t.Amount
}

// CreditResult reports the outcome of a credit operation.
// Applied is false when the external reference was already recorded;
// callers must treat that as success.
type CreditResult struct {
	Tokens  int64
	Applied bool
}

// Reconcile computes the balance implied by a transaction log.
// This is a PURE function used to check the ledger invariant.
func Reconcile(txs []Transaction) int64 {
	var total int64
	for _, t := range txs {
		total += t.Signed()
	}
	return total
}

// CheckInvariant reports whether a balance agrees with its transaction log.
// This is a PURE function.
func CheckInvariant(b Balance, txs []Transaction) bool {
	return b.Tokens == Reconcile(txs) && b.Tokens >= 0
}

// ValidateAmount rejects non-positive mutation amounts before any I/O.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
