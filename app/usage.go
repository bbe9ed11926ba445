package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/promptforge/tokengate/config"
	"github.com/promptforge/tokengate/domain/ledger"
	"github.com/promptforge/tokengate/ports"
)

// UsageService is the thin ledger client used by AI-operation use cases:
// pre-check before an operation, best-effort debit after it, plus the
// balance, history, and free-trial reads the API exposes.
type UsageService struct {
	cfg    *config.Holder
	tokens ports.LedgerStore
	logger zerolog.Logger
}

// NewUsageService creates a new usage service.
func NewUsageService(cfg *config.Holder, tokens ports.LedgerStore, logger zerolog.Logger) *UsageService {
	return &UsageService{cfg: cfg, tokens: tokens, logger: logger}
}

// Balance returns the user's current balance.
func (s *UsageService) Balance(ctx context.Context, userID string) (ledger.Balance, error) {
	return s.tokens.GetBalance(ctx, userID)
}

// History returns a reverse-chronological page of the user's transactions.
// A zero limit falls back to the configured page size.
func (s *UsageService) History(ctx context.Context, userID string, limit, offset int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = s.cfg.Get().Ledger.HistoryPageSize
	}
	return s.tokens.History(ctx, userID, limit, offset)
}

// PreCheck gates whether an AI operation may start: the balance must cover
// the estimated cost. This bounds negative-balance exposure; the actual
// debit happens in Consume once the real cost is known.
func (s *UsageService) PreCheck(ctx context.Context, userID string, estimatedCost int64) error {
	b, err := s.tokens.GetBalance(ctx, userID)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	if b.Tokens < estimatedCost {
		return ledger.ErrInsufficientTokens
	}
	return nil
}

// Consume debits the reported cost of a completed AI operation. The debit
// is best-effort: the operation's result already exists and its cost was
// already incurred, so failures are logged and returned but callers should
// not fail the operation over them.
func (s *UsageService) Consume(ctx context.Context, userID string, cost int64) (int64, error) {
	remaining, err := s.tokens.Debit(ctx, userID, cost, ledger.ReasonAIUsage)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("user_id", userID).
			Int64("cost", cost).
			Msg("usage debit failed")
		return remaining, err
	}
	return remaining, nil
}

// ClaimFreeTrial grants the configured one-time trial credit. A repeat claim
// is an idempotent no-op reporting granted=false with the current balance.
func (s *UsageService) ClaimFreeTrial(ctx context.Context, userID string) (int64, bool, error) {
	amount := s.cfg.Get().Ledger.FreeTrialTokens

	tokens, err := s.tokens.GrantFreeTrial(ctx, userID, amount)
	if errors.Is(err, ledger.ErrTrialAlreadyUsed) {
		b, getErr := s.tokens.GetBalance(ctx, userID)
		if getErr != nil {
			return 0, false, fmt.Errorf("get balance: %w", getErr)
		}
		return b.Tokens, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("grant free trial: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Int64("tokens", amount).
		Msg("free trial granted")
	return tokens, true, nil
}
