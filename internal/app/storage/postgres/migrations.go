package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the schema when it does not already exist. Statements are
// idempotent so the function is safe to run at every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'user',
			balance       NUMERIC(10,2) NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			CHECK (balance >= 0),
			CHECK (role IN ('user', 'admin'))
		)`,
		`CREATE TABLE IF NOT EXISTS grid_models (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			width         INTEGER NOT NULL,
			height        INTEGER NOT NULL,
			cells         JSONB NOT NULL,
			creation_cost NUMERIC(10,2) NOT NULL,
			owner_id      TEXT NOT NULL REFERENCES accounts(id),
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS update_requests (
			id           TEXT PRIMARY KEY,
			state        TEXT NOT NULL DEFAULT 'pending',
			total_cost   NUMERIC(10,2) NOT NULL DEFAULT 0,
			model_id     TEXT NOT NULL REFERENCES grid_models(id),
			requester_id TEXT NOT NULL REFERENCES accounts(id),
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			CHECK (state IN ('pending', 'approved', 'rejected'))
		)`,
		`CREATE TABLE IF NOT EXISTS cell_edits (
			id         TEXT PRIMARY KEY,
			x          INTEGER NOT NULL,
			y          INTEGER NOT NULL,
			value      INTEGER NOT NULL,
			request_id TEXT NOT NULL REFERENCES update_requests(id) ON DELETE CASCADE,
			CHECK (value IN (0, 1))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grid_models_owner ON grid_models(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_update_requests_model ON update_requests(model_id)`,
		`CREATE INDEX IF NOT EXISTS idx_update_requests_state ON update_requests(state)`,
		`CREATE INDEX IF NOT EXISTS idx_cell_edits_request ON cell_edits(request_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
