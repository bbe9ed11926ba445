package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/promptforge/tokengate/adapters/clock"
	"github.com/promptforge/tokengate/adapters/idgen"
	"github.com/promptforge/tokengate/adapters/memory"
	"github.com/promptforge/tokengate/config"
	"github.com/promptforge/tokengate/domain/ledger"
)

func newUsageFixture() (*UsageService, *memory.LedgerStore) {
	holder := config.NewStaticHolder(testConfig())
	tokens := memory.NewLedgerStore(idgen.NewSequential("tx-"), clock.System{})
	return NewUsageService(holder, tokens, zerolog.Nop()), tokens
}

func TestUsageService_PreCheck(t *testing.T) {
	svc, tokens := newUsageFixture()
	ctx := context.Background()

	tokens.Credit(ctx, "user-1", 1000, ledger.ReasonFreeTrial, "", nil)

	if err := svc.PreCheck(ctx, "user-1", 1000); err != nil {
		t.Errorf("exact balance: %v", err)
	}
	if err := svc.PreCheck(ctx, "user-1", 1001); !errors.Is(err, ledger.ErrInsufficientTokens) {
		t.Errorf("over balance: err = %v, want ErrInsufficientTokens", err)
	}
	if err := svc.PreCheck(ctx, "ghost", 1); !errors.Is(err, ledger.ErrInsufficientTokens) {
		t.Errorf("no balance: err = %v, want ErrInsufficientTokens", err)
	}
}

func TestUsageService_Consume(t *testing.T) {
	svc, tokens := newUsageFixture()
	ctx := context.Background()

	tokens.Credit(ctx, "user-1", 1000, ledger.ReasonFreeTrial, "", nil)

	remaining, err := svc.Consume(ctx, "user-1", 400)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if remaining != 600 {
		t.Errorf("remaining = %d, want 600", remaining)
	}

	// Scenario: balance 1000 total, debit beyond it fails and changes nothing.
	if _, err := svc.Consume(ctx, "user-1", 1500); !errors.Is(err, ledger.ErrInsufficientTokens) {
		t.Fatalf("err = %v, want ErrInsufficientTokens", err)
	}
	b, _ := tokens.GetBalance(ctx, "user-1")
	if b.Tokens != 600 {
		t.Errorf("balance = %d, want unchanged 600", b.Tokens)
	}
}

func TestUsageService_History_DefaultPageSize(t *testing.T) {
	svc, tokens := newUsageFixture()
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		tokens.Credit(ctx, "user-1", 10, ledger.ReasonOneTimeTopup, "", nil)
	}

	txs, err := svc.History(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 20 {
		t.Errorf("len = %d, want configured page size 20", len(txs))
	}
}

func TestUsageService_ClaimFreeTrial(t *testing.T) {
	svc, _ := newUsageFixture()
	ctx := context.Background()

	tokens, granted, err := svc.ClaimFreeTrial(ctx, "user-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !granted || tokens != 1000 {
		t.Errorf("tokens = %d granted = %v, want 1000 granted", tokens, granted)
	}

	// Second claim: idempotent no-op.
	tokens, granted, err = svc.ClaimFreeTrial(ctx, "user-1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if granted || tokens != 1000 {
		t.Errorf("tokens = %d granted = %v, want 1000 not granted", tokens, granted)
	}
}
