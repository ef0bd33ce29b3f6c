package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/domain/update"
	"github.com/crowdgrid/platform/internal/app/storage"
)

func TestAccountRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateAccount(ctx, account.Account{
		Email:   "a@example.com",
		Role:    account.RoleUser,
		Balance: decimal.RequireFromString("20.00"),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := store.GetAccount(ctx, created.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Email != "a@example.com" {
		t.Fatalf("wrong email: %s", got.Email)
	}

	byEmail, err := store.GetAccountByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != created.ID {
		t.Fatalf("email lookup returned %s, want %s", byEmail.ID, created.ID)
	}
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateAccount(ctx, account.Account{Email: "dup@example.com"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := store.CreateAccount(ctx, account.Account{Email: "dup@example.com"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	store := New()
	if _, err := store.GetAccount(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetBalance(t *testing.T) {
	store := New()
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "b@example.com", Balance: decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetBalance(ctx, acct.ID, decimal.RequireFromString("12.34")); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	got, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("12.34")) {
		t.Fatalf("balance not updated, got %s", got.Balance)
	}
}

func TestInTxCommit(t *testing.T) {
	store := New()
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "tx@example.com", Balance: decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = store.InTx(ctx, func(tx storage.Stores) error {
		if err := tx.SetBalance(ctx, acct.ID, decimal.NewFromInt(10)); err != nil {
			return err
		}
		_, err := tx.CreateModel(ctx, grid.Model{Name: "m", Width: 2, Height: 2, Cells: [][]int{{0, 0}, {0, 0}}, OwnerID: acct.ID})
		return err
	})
	if err != nil {
		t.Fatalf("commit tx: %v", err)
	}

	got, _ := store.GetAccount(ctx, acct.ID)
	if !got.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected committed balance 10, got %s", got.Balance)
	}
	if n, _ := store.CountModels(ctx); n != 1 {
		t.Fatalf("expected 1 model after commit, got %d", n)
	}
}

func TestInTxRollback(t *testing.T) {
	store := New()
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "rb@example.com", Balance: decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	err = store.InTx(ctx, func(tx storage.Stores) error {
		if err := tx.SetBalance(ctx, acct.ID, decimal.Zero); err != nil {
			return err
		}
		if _, err := tx.CreateModel(ctx, grid.Model{Name: "m", Width: 2, Height: 2, Cells: [][]int{{0, 0}, {0, 0}}, OwnerID: acct.ID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := store.GetAccount(ctx, acct.ID)
	if !got.Balance.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("rollback lost the original balance, got %s", got.Balance)
	}
	if n, _ := store.CountModels(ctx); n != 0 {
		t.Fatalf("expected no models after rollback, got %d", n)
	}
}

func TestGetModelReturnsClone(t *testing.T) {
	store := New()
	ctx := context.Background()

	m, err := store.CreateModel(ctx, grid.Model{Name: "m", Width: 2, Height: 1, Cells: [][]int{{0, 0}}})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	got, err := store.GetModel(ctx, m.ID)
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	got.Cells[0][0] = 1

	again, _ := store.GetModel(ctx, m.ID)
	if again.Cells[0][0] != 0 {
		t.Fatal("mutating a returned model leaked into the store")
	}
}

func TestReplaceGrid(t *testing.T) {
	store := New()
	ctx := context.Background()

	m, err := store.CreateModel(ctx, grid.Model{Name: "m", Width: 2, Height: 1, Cells: [][]int{{0, 0}}})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if err := store.ReplaceGrid(ctx, m.ID, [][]int{{1, 0}}); err != nil {
		t.Fatalf("replace grid: %v", err)
	}
	got, _ := store.GetModel(ctx, m.ID)
	if got.Cells[0][0] != 1 {
		t.Fatal("grid not replaced")
	}

	if err := store.ReplaceGrid(ctx, "missing", [][]int{{0}}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	m, err := store.CreateModel(ctx, grid.Model{Name: "m", Width: 2, Height: 2, Cells: [][]int{{0, 0}, {0, 0}}, OwnerID: "owner"})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}

	req, err := store.CreateRequest(ctx, update.Request{
		State:       update.StatePending,
		TotalCost:   decimal.RequireFromString("0.35"),
		ModelID:     m.ID,
		RequesterID: "requester",
		Edits:       []update.Edit{{X: 0, Y: 0, Value: 1}},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.ID == "" || req.Edits[0].RequestID != req.ID {
		t.Fatalf("edit not linked to request: %+v", req)
	}

	pending, total, err := store.ListPendingByOwner(ctx, "owner", 10, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if total != 1 || len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", total)
	}

	if err := store.SetRequestState(ctx, req.ID, update.StateApproved); err != nil {
		t.Fatalf("set state: %v", err)
	}
	got, _ := store.GetRequest(ctx, req.ID)
	if got.State != update.StateApproved {
		t.Fatalf("expected approved, got %s", got.State)
	}

	if _, total, _ := store.ListPendingByOwner(ctx, "owner", 10, 0); total != 0 {
		t.Fatalf("approved request still listed as pending")
	}

	stats, _ := store.RequestStats(ctx)
	if stats[update.StateApproved] != 1 {
		t.Fatalf("stats should count the approved request, got %v", stats)
	}
}

func TestListByModelFilters(t *testing.T) {
	store := New()
	ctx := context.Background()

	m, _ := store.CreateModel(ctx, grid.Model{Name: "m", Width: 2, Height: 1, Cells: [][]int{{0, 0}}, OwnerID: "owner"})

	r1, _ := store.CreateRequest(ctx, update.Request{State: update.StatePending, ModelID: m.ID, RequesterID: "a"})
	store.CreateRequest(ctx, update.Request{State: update.StatePending, ModelID: m.ID, RequesterID: "b"})
	store.SetRequestState(ctx, r1.ID, update.StateRejected)

	rejected := update.StateRejected
	got, total, err := store.ListByModel(ctx, m.ID, update.Filters{State: &rejected}, 10, 0)
	if err != nil {
		t.Fatalf("list by model: %v", err)
	}
	if total != 1 || got[0].ID != r1.ID {
		t.Fatalf("state filter failed, got %d results", total)
	}

	_, total, _ = store.ListByModel(ctx, m.ID, update.Filters{}, 10, 0)
	if total != 2 {
		t.Fatalf("unfiltered list should return 2 requests, got %d", total)
	}
}

func TestPagination(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.CreateModel(ctx, grid.Model{Name: "m", Width: 1, Height: 1, Cells: [][]int{{0}}, OwnerID: "owner"}); err != nil {
			t.Fatalf("create model: %v", err)
		}
	}

	page1, total, err := store.ListModelsByOwner(ctx, "owner", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(page1) != 2 {
		t.Fatalf("expected total 5 page of 2, got total %d len %d", total, len(page1))
	}

	page3, _, _ := store.ListModelsByOwner(ctx, "owner", 2, 4)
	if len(page3) != 1 {
		t.Fatalf("expected final page of 1, got %d", len(page3))
	}

	empty, _, _ := store.ListModelsByOwner(ctx, "owner", 2, 10)
	if len(empty) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(empty))
	}
}

func TestReadCell(t *testing.T) {
	store := New()
	ctx := context.Background()

	m, err := store.CreateModel(ctx, grid.Model{
		Name:   "cells",
		Width:  2,
		Height: 2,
		Cells:  [][]int{{0, 1}, {0, 0}},
	})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}

	v, err := store.ReadCell(ctx, m.ID, 1, 0)
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}

	var oob *grid.OutOfBoundsError
	if _, err := store.ReadCell(ctx, m.ID, 2, 0); !errors.As(err, &oob) {
		t.Fatalf("expected OutOfBoundsError, got %v", err)
	}
	if _, err := store.ReadCell(ctx, m.ID, 0, -1); !errors.As(err, &oob) {
		t.Fatalf("expected OutOfBoundsError for negative y, got %v", err)
	}
	if _, err := store.ReadCell(ctx, "missing", 0, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
