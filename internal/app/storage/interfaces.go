package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/domain/update"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("record already exists")
)

// AccountStore persists platform accounts and their token balances.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]account.Account, int, error)

	// SetBalance writes the authoritative balance for an account. Callers
	// are expected to have re-read the row inside the same unit of work.
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) error

	CountAccounts(ctx context.Context) (int, error)
	TotalBalance(ctx context.Context) (decimal.Decimal, error)
}

// GridStore persists grid models and their cell payloads.
type GridStore interface {
	CreateModel(ctx context.Context, m grid.Model) (grid.Model, error)
	GetModel(ctx context.Context, id string) (grid.Model, error)
	ListModelsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]grid.Model, int, error)

	// ReplaceGrid swaps the whole cell payload of a model in one step.
	ReplaceGrid(ctx context.Context, modelID string, cells [][]int) error

	// ReadCell returns the value of a single cell. Coordinates outside the
	// grid produce a grid.OutOfBoundsError.
	ReadCell(ctx context.Context, modelID string, x, y int) (int, error)

	CountModels(ctx context.Context) (int, error)
}

// UpdateStore persists update requests and their cell edits. Edits are owned
// by their request: they are written with it and never mutated afterwards.
type UpdateStore interface {
	CreateRequest(ctx context.Context, req update.Request) (update.Request, error)
	GetRequest(ctx context.Context, id string) (update.Request, error)
	GetRequests(ctx context.Context, ids []string) ([]update.Request, error)
	SetRequestState(ctx context.Context, id string, state update.State) error

	ListPendingByOwner(ctx context.Context, ownerID string, limit, offset int) ([]update.Request, int, error)
	ListByModel(ctx context.Context, modelID string, f update.Filters, limit, offset int) ([]update.Request, int, error)
	CountPendingByModel(ctx context.Context, modelID string) (int, error)
	RequestStats(ctx context.Context) (map[update.State]int, error)
}

// Stores bundles the per-domain store interfaces a unit of work exposes.
type Stores interface {
	AccountStore
	GridStore
	UpdateStore
}

// Store is the full persistence contract: the per-domain stores plus the
// unit-of-work primitive. InTx runs fn against a transactional view; every
// effect lands on commit or none do. Implementations must allow the debit,
// create and grid-mutate steps of one logical operation to share a single
// unit.
type Store interface {
	Stores
	InTx(ctx context.Context, fn func(tx Stores) error) error
}
