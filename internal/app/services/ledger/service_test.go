package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/audit"
	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/storage"
	"github.com/crowdgrid/platform/internal/app/storage/memory"
)

func newFixture(t *testing.T, balance string) (*Service, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	svc := New(store, audit.NewLog(10, nil), nil)

	acct, err := store.CreateAccount(context.Background(), account.Account{
		Email:   "ledger@example.com",
		Role:    account.RoleUser,
		Balance: decimal.RequireFromString(balance),
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return svc, store, acct.ID
}

func TestDebit(t *testing.T) {
	svc, store, id := newFixture(t, "20.00")
	ctx := context.Background()

	balance, err := svc.DebitAndBalance(ctx, id, decimal.RequireFromString("1.25"), "model_create", "")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("18.75")) {
		t.Fatalf("expected 18.75, got %s", balance)
	}

	got, _ := store.GetAccount(ctx, id)
	if !got.Balance.Equal(balance) {
		t.Fatalf("persisted balance %s differs from returned %s", got.Balance, balance)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	svc, store, id := newFixture(t, "1.00")
	ctx := context.Background()

	_, err := svc.DebitAndBalance(ctx, id, decimal.RequireFromString("1.25"), "model_create", "")
	var insufficient *InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !insufficient.Required.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("wrong required amount: %s", insufficient.Required)
	}
	if !insufficient.Available.Equal(decimal.RequireFromString("1.00")) {
		t.Fatalf("wrong available amount: %s", insufficient.Available)
	}

	// Balance must be untouched after a failed debit.
	got, _ := store.GetAccount(ctx, id)
	if !got.Balance.Equal(decimal.RequireFromString("1.00")) {
		t.Fatalf("failed debit changed the balance to %s", got.Balance)
	}
}

func TestDebitExactBalance(t *testing.T) {
	svc, _, id := newFixture(t, "1.25")

	balance, err := svc.DebitAndBalance(context.Background(), id, decimal.RequireFromString("1.25"), "model_create", "")
	if err != nil {
		t.Fatalf("debit to zero should succeed: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", balance)
	}
}

func TestDebitNegativeAmount(t *testing.T) {
	svc, _, id := newFixture(t, "20.00")

	_, err := svc.DebitAndBalance(context.Background(), id, decimal.NewFromInt(-1), "model_create", "")
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	svc, _, _ := newFixture(t, "20.00")

	_, err := svc.DebitAndBalance(context.Background(), "missing", decimal.NewFromInt(1), "model_create", "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecharge(t *testing.T) {
	svc, store, id := newFixture(t, "5.00")
	ctx := context.Background()

	result, err := svc.Recharge(ctx, "ledger@example.com", decimal.RequireFromString("100.00"))
	if err != nil {
		t.Fatalf("recharge: %v", err)
	}
	if result.AccountID != id {
		t.Fatalf("wrong account: %s", result.AccountID)
	}
	if !result.PreviousBalance.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("wrong previous balance: %s", result.PreviousBalance)
	}
	if !result.NewBalance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("wrong new balance: %s", result.NewBalance)
	}

	got, _ := store.GetAccount(ctx, id)
	if !got.Balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("recharge not persisted, balance %s", got.Balance)
	}
}

func TestRechargeNegative(t *testing.T) {
	svc, _, _ := newFixture(t, "5.00")

	_, err := svc.Recharge(context.Background(), "ledger@example.com", decimal.NewFromInt(-1))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRechargeUnknownEmail(t *testing.T) {
	svc, _, _ := newFixture(t, "5.00")

	_, err := svc.Recharge(context.Background(), "nobody@example.com", decimal.NewFromInt(10))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDebitAbortedUnitOfWorkLeavesNoAudit(t *testing.T) {
	store := memory.New()
	trail := audit.NewLog(10, nil)
	svc := New(store, trail, nil)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "rollback@example.com", Balance: decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A later step in the same unit of work fails after the debit succeeded.
	insertFailed := errors.New("insert failed")
	err = store.InTx(ctx, func(tx storage.Stores) error {
		if _, _, err := svc.Debit(ctx, tx, acct.ID, decimal.NewFromInt(5), "update_submit", "m1"); err != nil {
			return err
		}
		return insertFailed
	})
	if !errors.Is(err, insertFailed) {
		t.Fatalf("expected the unit of work to fail, got %v", err)
	}

	got, _ := store.GetAccount(ctx, acct.ID)
	if !got.Balance.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("balance not rolled back, got %s", got.Balance)
	}
	if entries := trail.List(10); len(entries) != 0 {
		t.Fatalf("aborted debit left audit entries: %+v", entries)
	}
}

func TestDebitRecordsAudit(t *testing.T) {
	store := memory.New()
	trail := audit.NewLog(10, nil)
	svc := New(store, trail, nil)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "audit@example.com", Balance: decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.DebitAndBalance(ctx, acct.ID, decimal.NewFromInt(5), "model_execute", "model-1"); err != nil {
		t.Fatalf("debit: %v", err)
	}

	entries := trail.List(10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Operation != "debit" || entries[0].Reference != "model-1" {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
}
