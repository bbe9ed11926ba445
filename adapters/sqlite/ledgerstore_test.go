package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/promptforge/tokengate/adapters/clock"
	"github.com/promptforge/tokengate/adapters/idgen"
	"github.com/promptforge/tokengate/adapters/sqlite"
	"github.com/promptforge/tokengate/domain/ledger"
)

func newTestLedgerStore(t *testing.T) (*sqlite.LedgerStore, func()) {
	t.Helper()
	db, cleanup := setupTestDB(t)
	return sqlite.NewLedgerStore(db, idgen.UUID{}, clock.System{}), cleanup
}

func TestLedgerStore_GetBalance_Missing(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()

	b, err := store.GetBalance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.UserID != "user-1" || b.Tokens != 0 || b.FreeTrialUsed {
		t.Errorf("unexpected zero balance: %+v", b)
	}
}

func TestLedgerStore_Credit_CreatesBalance(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	res, err := store.Credit(ctx, "user-1", 600000, ledger.ReasonSubscriptionActivated, "pay_001", map[string]string{"plan": "pro"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !res.Applied || res.Tokens != 600000 {
		t.Errorf("result = %+v, want applied with 600000 tokens", res)
	}

	b, err := store.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.Tokens != 600000 {
		t.Errorf("tokens = %d, want 600000", b.Tokens)
	}
}

func TestLedgerStore_Credit_DuplicateRef(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.Credit(ctx, "user-1", 600000, ledger.ReasonSubscriptionRenewal, "inv_42", nil); err != nil {
		t.Fatalf("first credit: %v", err)
	}

	// Same invoice delivered again: ack without mutating.
	res, err := store.Credit(ctx, "user-1", 600000, ledger.ReasonSubscriptionRenewal, "inv_42", nil)
	if err != nil {
		t.Fatalf("repeat credit: %v", err)
	}
	if res.Applied {
		t.Error("repeat credit should not apply")
	}
	if res.Tokens != 600000 {
		t.Errorf("tokens = %d, want 600000", res.Tokens)
	}

	txs, err := store.History(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("transaction count = %d, want 1", len(txs))
	}
}

func TestLedgerStore_Credit_SameRefDifferentUser(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.Credit(ctx, "user-1", 100, ledger.ReasonOneTimeTopup, "pay_shared", nil); err != nil {
		t.Fatalf("first credit: %v", err)
	}

	// The reference is globally unique, not per user.
	res, err := store.Credit(ctx, "user-2", 100, ledger.ReasonOneTimeTopup, "pay_shared", nil)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if res.Applied {
		t.Error("credit with an already-used ref should not apply for any user")
	}

	b, _ := store.GetBalance(ctx, "user-2")
	if b.Tokens != 0 {
		t.Errorf("user-2 tokens = %d, want 0", b.Tokens)
	}
}

func TestLedgerStore_Credit_InvalidAmount(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()

	for _, amount := range []int64{0, -100} {
		_, err := store.Credit(context.Background(), "user-1", amount, ledger.ReasonOneTimeTopup, "", nil)
		if !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("amount %d: err = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestLedgerStore_Debit(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	store.Credit(ctx, "user-1", 1000, ledger.ReasonFreeTrial, "", nil)

	remaining, err := store.Debit(ctx, "user-1", 300, ledger.ReasonAIUsage)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if remaining != 700 {
		t.Errorf("remaining = %d, want 700", remaining)
	}
}

func TestLedgerStore_Debit_InsufficientLeavesStateUntouched(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	store.Credit(ctx, "user-1", 500, ledger.ReasonFreeTrial, "", nil)

	_, err := store.Debit(ctx, "user-1", 501, ledger.ReasonAIUsage)
	if !errors.Is(err, ledger.ErrInsufficientTokens) {
		t.Fatalf("err = %v, want ErrInsufficientTokens", err)
	}

	b, _ := store.GetBalance(ctx, "user-1")
	if b.Tokens != 500 {
		t.Errorf("tokens = %d, want 500", b.Tokens)
	}
	txs, _ := store.History(ctx, "user-1", 10, 0)
	if len(txs) != 1 {
		t.Errorf("transaction count = %d, want 1 (no debit row)", len(txs))
	}
}

func TestLedgerStore_Debit_NoBalanceRow(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()

	_, err := store.Debit(context.Background(), "ghost", 1, ledger.ReasonAIUsage)
	if !errors.Is(err, ledger.ErrInsufficientTokens) {
		t.Fatalf("err = %v, want ErrInsufficientTokens", err)
	}
}

func TestLedgerStore_Debit_ExactBalance(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	store.Credit(ctx, "user-1", 250, ledger.ReasonFreeTrial, "", nil)

	remaining, err := store.Debit(ctx, "user-1", 250, ledger.ReasonAIUsage)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestLedgerStore_ConcurrentDebits(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	store.Credit(ctx, "user-1", 1000, ledger.ReasonFreeTrial, "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Debit(ctx, "user-1", 100, ledger.ReasonAIUsage)
		}()
	}
	wg.Wait()

	// Exactly ten debits can win; the balance never goes negative and the
	// log must reconcile with the stored balance.
	b, err := store.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.Tokens != 0 {
		t.Errorf("tokens = %d, want 0", b.Tokens)
	}

	txs, err := store.History(ctx, "user-1", 100, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if got := ledger.Reconcile(txs); got != b.Tokens {
		t.Errorf("reconciled = %d, balance = %d", got, b.Tokens)
	}
}

func TestLedgerStore_GrantFreeTrial_Once(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	tokens, err := store.GrantFreeTrial(ctx, "user-1", 1000)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if tokens != 1000 {
		t.Errorf("tokens = %d, want 1000", tokens)
	}

	if _, err := store.GrantFreeTrial(ctx, "user-1", 1000); !errors.Is(err, ledger.ErrTrialAlreadyUsed) {
		t.Fatalf("second grant: err = %v, want ErrTrialAlreadyUsed", err)
	}

	b, _ := store.GetBalance(ctx, "user-1")
	if b.Tokens != 1000 || !b.FreeTrialUsed {
		t.Errorf("balance = %+v, want 1000 tokens with trial used", b)
	}
}

func TestLedgerStore_GrantFreeTrial_AfterCredit(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	store.Credit(ctx, "user-1", 500, ledger.ReasonOneTimeTopup, "", nil)

	tokens, err := store.GrantFreeTrial(ctx, "user-1", 1000)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if tokens != 1500 {
		t.Errorf("tokens = %d, want 1500", tokens)
	}
}

func TestLedgerStore_History_PagingAndOrder(t *testing.T) {
	store, cleanup := newTestLedgerStore(t)
	defer cleanup()
	ctx := context.Background()

	store.Credit(ctx, "user-1", 100, ledger.ReasonFreeTrial, "", nil)
	store.Credit(ctx, "user-1", 200, ledger.ReasonOneTimeTopup, "pay_1", map[string]string{"order_id": "order_1"})
	store.Debit(ctx, "user-1", 50, ledger.ReasonAIUsage)

	txs, err := store.History(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("len = %d, want 3", len(txs))
	}
	if txs[0].Kind != ledger.KindDebit {
		t.Errorf("newest entry kind = %s, want debit", txs[0].Kind)
	}
	if txs[1].Metadata["order_id"] != "order_1" {
		t.Errorf("metadata = %v, want order_id preserved", txs[1].Metadata)
	}

	page, err := store.History(ctx, "user-1", 2, 2)
	if err != nil {
		t.Fatalf("history page: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("page len = %d, want 1", len(page))
	}

	// Limit is clamped, not an error.
	if _, err := store.History(ctx, "user-1", 10000, 0); err != nil {
		t.Errorf("oversized limit: %v", err)
	}
}
