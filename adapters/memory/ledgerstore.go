// Package memory provides in-memory implementations for testing.
package memory

import (
	"context"
	"sync"

	"github.com/promptforge/tokengate/domain/ledger"
	"github.com/promptforge/tokengate/ports"
)

// LedgerStore is an in-memory implementation of ports.LedgerStore.
// A single mutex guards both balances and the transaction log, so the
// atomicity guarantees of the SQLite store hold here as well.
type LedgerStore struct {
	mu       sync.RWMutex
	balances map[string]ledger.Balance     // by user ID
	txs      []ledger.Transaction          // append-only, oldest first
	byRef    map[string]ledger.Transaction // by external ref
	idGen    ports.IDGenerator
	clock    ports.Clock
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore(idGen ports.IDGenerator, clock ports.Clock) *LedgerStore {
	return &LedgerStore{
		balances: make(map[string]ledger.Balance),
		byRef:    make(map[string]ledger.Transaction),
		idGen:    idGen,
		clock:    clock,
	}
}

// GetBalance returns the user's balance, or a zero balance if none exists.
func (s *LedgerStore) GetBalance(ctx context.Context, userID string) (ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.balances[userID]; ok {
		return b, nil
	}
	return ledger.Balance{UserID: userID}, nil
}

// Credit increments the balance and appends a credit transaction.
// A repeated externalRef is a no-op returning Applied=false.
func (s *LedgerStore) Credit(ctx context.Context, userID string, amount int64, reason, externalRef string, metadata map[string]string) (ledger.CreditResult, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return ledger.CreditResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if externalRef != "" {
		if _, ok := s.byRef[externalRef]; ok {
			return ledger.CreditResult{Tokens: s.balances[userID].Tokens, Applied: false}, nil
		}
	}

	now := s.clock.Now()
	b := s.balances[userID]
	b.UserID = userID
	b.Tokens += amount
	b.UpdatedAt = now
	s.balances[userID] = b

	s.append(ledger.Transaction{
		ID:          s.idGen.New(),
		UserID:      userID,
		Kind:        ledger.KindCredit,
		Amount:      amount,
		Reason:      reason,
		ExternalRef: externalRef,
		Metadata:    metadata,
		CreatedAt:   now,
	})

	return ledger.CreditResult{Tokens: b.Tokens, Applied: true}, nil
}

// Debit decrements the balance and appends a debit transaction.
// Returns ledger.ErrInsufficientTokens when the balance is too low.
func (s *LedgerStore) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balances[userID]
	if b.Tokens < amount {
		return b.Tokens, ledger.ErrInsufficientTokens
	}

	now := s.clock.Now()
	b.UserID = userID
	b.Tokens -= amount
	b.UpdatedAt = now
	s.balances[userID] = b

	s.append(ledger.Transaction{
		ID:        s.idGen.New(),
		UserID:    userID,
		Kind:      ledger.KindDebit,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: now,
	})

	return b.Tokens, nil
}

// GrantFreeTrial credits the trial amount once per user.
func (s *LedgerStore) GrantFreeTrial(ctx context.Context, userID string, amount int64) (int64, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balances[userID]
	if b.FreeTrialUsed {
		return b.Tokens, ledger.ErrTrialAlreadyUsed
	}

	now := s.clock.Now()
	b.UserID = userID
	b.Tokens += amount
	b.FreeTrialUsed = true
	b.UpdatedAt = now
	s.balances[userID] = b

	s.append(ledger.Transaction{
		ID:        s.idGen.New(),
		UserID:    userID,
		Kind:      ledger.KindCredit,
		Amount:    amount,
		Reason:    ledger.ReasonFreeTrial,
		CreatedAt: now,
	})

	return b.Tokens, nil
}

// History returns the user's transactions, newest first.
func (s *LedgerStore) History(ctx context.Context, userID string, limit, offset int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []ledger.Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].UserID == userID {
			mine = append(mine, s.txs[i])
		}
	}

	if offset >= len(mine) {
		return nil, nil
	}
	end := offset + limit
	if end > len(mine) {
		end = len(mine)
	}
	return mine[offset:end], nil
}

// Transactions returns a copy of the full log, oldest first (for tests).
func (s *LedgerStore) Transactions() []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Transaction, len(s.txs))
	copy(out, s.txs)
	return out
}

// append must be called with the write lock held.
func (s *LedgerStore) append(tx ledger.Transaction) {
	s.txs = append(s.txs, tx)
	if tx.ExternalRef != "" {
		s.byRef[tx.ExternalRef] = tx
	}
}

var _ ports.LedgerStore = (*LedgerStore)(nil)
