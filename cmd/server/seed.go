package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	app "github.com/crowdgrid/platform/internal/app"
	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/pricing"
	"github.com/crowdgrid/platform/pkg/logger"
)

// seed populates an empty store with demo accounts and grids. A store that
// already holds accounts is left untouched.
func seed(ctx context.Context, application *app.Application, log *logger.Logger) error {
	count, err := application.Store.CountAccounts(ctx)
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if count > 0 {
		log.Debug("store already populated, skipping seed")
		return nil
	}

	log.Info("seeding demo accounts and grids")

	seedAccounts := []struct {
		email    string
		password string
		role     account.Role
		balance  decimal.Decimal
	}{
		{"admin@example.com", "password_admin", account.RoleAdmin, decimal.NewFromFloat(1000.00)},
		{"user@example.com", "password_user", account.RoleUser, decimal.NewFromFloat(50.00)},
		{"user2@example.com", "password_user", account.RoleUser, decimal.NewFromFloat(75.00)},
	}

	ids := make(map[string]string, len(seedAccounts))
	for _, sa := range seedAccounts {
		acct, err := application.Accounts.Register(ctx, sa.email, sa.password, sa.role)
		if err != nil {
			return fmt.Errorf("seed account %s: %w", sa.email, err)
		}
		if err := application.Store.SetBalance(ctx, acct.ID, sa.balance); err != nil {
			return fmt.Errorf("seed balance %s: %w", sa.email, err)
		}
		ids[sa.email] = acct.ID
	}

	seedModels := []struct {
		name  string
		owner string
		cells [][]int
	}{
		{
			name:  "Simple Maze v1",
			owner: "user@example.com",
			cells: [][]int{
				{0, 0, 0, 1, 0},
				{1, 1, 0, 1, 0},
				{0, 0, 0, 0, 0},
				{0, 1, 1, 1, 0},
				{0, 0, 0, 0, 0},
			},
		},
		{
			name:  "Simple Maze v2",
			owner: "user@example.com",
			cells: [][]int{
				{0, 1, 0, 1, 0},
				{1, 1, 0, 1, 0},
				{0, 0, 0, 1, 0},
				{0, 1, 1, 1, 0},
				{0, 0, 0, 0, 0},
			},
		},
		{
			name:  "Urban Map v1",
			owner: "user2@example.com",
			cells: [][]int{
				{0, 0, 1, 0, 0, 0},
				{0, 1, 1, 1, 0, 0},
				{0, 0, 0, 0, 0, 1},
				{1, 1, 0, 1, 1, 1},
				{0, 0, 0, 0, 0, 0},
			},
		},
		{
			name:  "Open Field v1",
			owner: "user2@example.com",
			cells: [][]int{
				{0, 0, 0, 0},
				{0, 0, 0, 0},
				{0, 0, 0, 0},
				{0, 0, 0, 0},
			},
		},
	}

	for _, sm := range seedModels {
		width, height, err := grid.ValidateCells(sm.cells)
		if err != nil {
			return fmt.Errorf("seed model %s: %w", sm.name, err)
		}
		cost, err := pricing.CreationCost(width, height)
		if err != nil {
			return fmt.Errorf("seed model %s: %w", sm.name, err)
		}
		if _, err := application.Store.CreateModel(ctx, grid.Model{
			Name:         sm.name,
			Width:        width,
			Height:       height,
			Cells:        sm.cells,
			CreationCost: cost,
			OwnerID:      ids[sm.owner],
		}); err != nil {
			return fmt.Errorf("seed model %s: %w", sm.name, err)
		}
	}

	log.WithField("accounts", len(seedAccounts)).
		WithField("models", len(seedModels)).
		Info("seed complete")
	return nil
}
