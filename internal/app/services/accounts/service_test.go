package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/domain/update"
	"github.com/crowdgrid/platform/internal/app/storage/memory"
)

func TestRegister(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	acct, err := svc.Register(ctx, "New.User@Example.COM", "secret", account.RoleUser)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Email != "new.user@example.com" {
		t.Fatalf("email not normalised: %s", acct.Email)
	}
	if !acct.Balance.Equal(StartingBalance) {
		t.Fatalf("expected starting balance %s, got %s", StartingBalance, acct.Balance)
	}
	if acct.PasswordHash == "secret" || acct.PasswordHash == "" {
		t.Fatal("password stored unhashed")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "dup@example.com", "secret", account.RoleUser); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, "dup@example.com", "other", account.RoleUser); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "", "secret", account.RoleUser); err == nil {
		t.Fatal("expected error for empty email")
	}
	if _, err := svc.Register(ctx, "a@example.com", "", account.RoleUser); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestAuthenticate(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "login@example.com", "secret", account.RoleUser)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	acct, err := svc.Authenticate(ctx, "login@example.com", "secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if acct.ID != registered.ID {
		t.Fatalf("wrong account returned: %s", acct.ID)
	}

	if _, err := svc.Authenticate(ctx, "login@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestSystemStats(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	a, err := svc.Register(ctx, "stats@example.com", "secret", account.RoleUser)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	m, err := store.CreateModel(ctx, grid.Model{Name: "m", Width: 1, Height: 1, Cells: [][]int{{0}}, OwnerID: a.ID})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if _, err := store.CreateRequest(ctx, update.Request{State: update.StatePending, ModelID: m.ID, RequesterID: a.ID}); err != nil {
		t.Fatalf("create request: %v", err)
	}

	stats, err := svc.SystemStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Accounts != 1 || stats.Models != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.Requests[update.StatePending] != 1 {
		t.Fatalf("expected 1 pending request, got %v", stats.Requests)
	}
	if !stats.TotalTokens.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("expected total tokens 20.00, got %s", stats.TotalTokens)
	}
}
