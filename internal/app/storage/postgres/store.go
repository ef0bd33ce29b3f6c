// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/domain/update"
	"github.com/crowdgrid/platform/internal/app/storage"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same store methods
// serve direct calls and calls inside a unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements storage.Store over a PostgreSQL database.
type Store struct {
	db *sql.DB
	q  querier
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// InTx opens a database transaction, runs fn against a transactional view of
// the store, and commits only when fn returns nil. Read-committed isolation
// is sufficient because every unit re-reads the authoritative row before
// deciding.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Stores) error) error {
	if s.db == nil {
		// Already inside a unit of work; share it.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&Store{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// AccountStore ----------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, role, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, acct.ID, acct.Email, acct.PasswordHash, string(acct.Role), acct.Balance, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return account.Account{}, storage.ErrConflict
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return s.scanAccount(s.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	return s.scanAccount(s.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, balance, created_at, updated_at
		FROM accounts
		WHERE email = $1
	`, email))
}

func (s *Store) scanAccount(row *sql.Row) (account.Account, error) {
	var (
		acct account.Account
		role string
	)
	err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &role, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return account.Account{}, err
	}
	acct.Role = account.Role(role)
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context, limit, offset int) ([]account.Account, int, error) {
	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, email, password_hash, role, balance, created_at, updated_at
		FROM accounts
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var accts []account.Account
	for rows.Next() {
		var (
			acct account.Account
			role string
		)
		if err := rows.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &role, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, 0, err
		}
		acct.Role = account.Role(role)
		accts = append(accts, acct)
	}
	return accts, total, rows.Err()
}

func (s *Store) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $2, updated_at = $3
		WHERE id = $1
	`, id, balance, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	return n, err
}

func (s *Store) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.q.QueryRowContext(ctx, `SELECT COALESCE(SUM(balance), 0) FROM accounts`).Scan(&total)
	return total, err
}

// GridStore -------------------------------------------------------------------

func (s *Store) CreateModel(ctx context.Context, m grid.Model) (grid.Model, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	cellsJSON, err := json.Marshal(m.Cells)
	if err != nil {
		return grid.Model{}, err
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO grid_models (id, name, width, height, cells, creation_cost, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.Name, m.Width, m.Height, cellsJSON, m.CreationCost, m.OwnerID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return grid.Model{}, err
	}
	return m, nil
}

func (s *Store) GetModel(ctx context.Context, id string) (grid.Model, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, width, height, cells, creation_cost, owner_id, created_at, updated_at
		FROM grid_models
		WHERE id = $1
	`, id)

	var (
		m        grid.Model
		cellsRaw []byte
	)
	err := row.Scan(&m.ID, &m.Name, &m.Width, &m.Height, &cellsRaw, &m.CreationCost, &m.OwnerID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return grid.Model{}, storage.ErrNotFound
	}
	if err != nil {
		return grid.Model{}, err
	}
	if err := json.Unmarshal(cellsRaw, &m.Cells); err != nil {
		return grid.Model{}, fmt.Errorf("decode grid payload: %w", err)
	}
	return m, nil
}

func (s *Store) ListModelsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]grid.Model, int, error) {
	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM grid_models WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, width, height, cells, creation_cost, owner_id, created_at, updated_at
		FROM grid_models
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var models []grid.Model
	for rows.Next() {
		var (
			m        grid.Model
			cellsRaw []byte
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Width, &m.Height, &cellsRaw, &m.CreationCost, &m.OwnerID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(cellsRaw, &m.Cells); err != nil {
			return nil, 0, fmt.Errorf("decode grid payload: %w", err)
		}
		models = append(models, m)
	}
	return models, total, rows.Err()
}

func (s *Store) ReplaceGrid(ctx context.Context, modelID string, cells [][]int) error {
	cellsJSON, err := json.Marshal(cells)
	if err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx, `
		UPDATE grid_models
		SET cells = $2, updated_at = $3
		WHERE id = $1
	`, modelID, cellsJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ReadCell(ctx context.Context, modelID string, x, y int) (int, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT width, height, cells -> ($3::int) ->> ($2::int)
		FROM grid_models
		WHERE id = $1
	`, modelID, x, y)

	var (
		width, height int
		value         sql.NullString
	)
	err := row.Scan(&width, &height, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	// Negative jsonb indexes count from the end, so bounds are checked here
	// rather than inferred from a NULL extraction.
	c := grid.Coordinate{X: x, Y: y}
	if x < 0 || y < 0 || x >= width || y >= height || !value.Valid {
		return 0, &grid.OutOfBoundsError{Coord: c, Width: width, Height: height}
	}
	v, err := strconv.Atoi(value.String)
	if err != nil {
		return 0, fmt.Errorf("decode cell %s: %w", c, err)
	}
	return v, nil
}

func (s *Store) CountModels(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM grid_models`).Scan(&n)
	return n, err
}

// UpdateStore -----------------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req update.Request) (update.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO update_requests (id, state, total_cost, model_id, requester_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, req.ID, string(req.State), req.TotalCost, req.ModelID, req.RequesterID, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return update.Request{}, err
	}

	for i := range req.Edits {
		if req.Edits[i].ID == "" {
			req.Edits[i].ID = uuid.NewString()
		}
		req.Edits[i].RequestID = req.ID
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO cell_edits (id, x, y, value, request_id)
			VALUES ($1, $2, $3, $4, $5)
		`, req.Edits[i].ID, req.Edits[i].X, req.Edits[i].Y, req.Edits[i].Value, req.ID)
		if err != nil {
			return update.Request{}, err
		}
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (update.Request, error) {
	reqs, err := s.GetRequests(ctx, []string{id})
	if err != nil {
		return update.Request{}, err
	}
	if len(reqs) == 0 {
		return update.Request{}, storage.ErrNotFound
	}
	return reqs[0], nil
}

func (s *Store) GetRequests(ctx context.Context, ids []string) ([]update.Request, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, state, total_cost, model_id, requester_id, created_at, updated_at
		FROM update_requests
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*update.Request)
	var order []string
	for rows.Next() {
		var (
			req   update.Request
			state string
		)
		if err := rows.Scan(&req.ID, &state, &req.TotalCost, &req.ModelID, &req.RequesterID, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		req.State = update.State(state)
		byID[req.ID] = &req
		order = append(order, req.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachEdits(ctx, byID); err != nil {
		return nil, err
	}

	out := make([]update.Request, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (s *Store) attachEdits(ctx context.Context, byID map[string]*update.Request) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, x, y, value, request_id
		FROM cell_edits
		WHERE request_id = ANY($1)
		ORDER BY id
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e update.Edit
		if err := rows.Scan(&e.ID, &e.X, &e.Y, &e.Value, &e.RequestID); err != nil {
			return err
		}
		if req, ok := byID[e.RequestID]; ok {
			req.Edits = append(req.Edits, e)
		}
	}
	return rows.Err()
}

func (s *Store) SetRequestState(ctx context.Context, id string, state update.State) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE update_requests
		SET state = $2, updated_at = $3
		WHERE id = $1
	`, id, string(state), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListPendingByOwner(ctx context.Context, ownerID string, limit, offset int) ([]update.Request, int, error) {
	var total int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM update_requests r
		JOIN grid_models m ON m.id = r.model_id
		WHERE r.state = 'pending' AND m.owner_id = $1
	`, ownerID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT r.id, r.state, r.total_cost, r.model_id, r.requester_id, r.created_at, r.updated_at
		FROM update_requests r
		JOIN grid_models m ON m.id = r.model_id
		WHERE r.state = 'pending' AND m.owner_id = $1
		ORDER BY r.created_at DESC, r.id
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	reqs, err := s.collectRequests(ctx, rows)
	return reqs, total, err
}

func (s *Store) ListByModel(ctx context.Context, modelID string, f update.Filters, limit, offset int) ([]update.Request, int, error) {
	where := "model_id = $1"
	args := []any{modelID}
	if f.State != nil {
		args = append(args, string(*f.State))
		where += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM update_requests WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, state, total_cost, model_id, requester_id, created_at, updated_at
		FROM update_requests
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	reqs, err := s.collectRequests(ctx, rows)
	return reqs, total, err
}

func (s *Store) collectRequests(ctx context.Context, rows *sql.Rows) ([]update.Request, error) {
	defer rows.Close()

	byID := make(map[string]*update.Request)
	var order []string
	for rows.Next() {
		var (
			req   update.Request
			state string
		)
		if err := rows.Scan(&req.ID, &state, &req.TotalCost, &req.ModelID, &req.RequesterID, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		req.State = update.State(state)
		byID[req.ID] = &req
		order = append(order, req.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachEdits(ctx, byID); err != nil {
		return nil, err
	}

	out := make([]update.Request, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (s *Store) CountPendingByModel(ctx context.Context, modelID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM update_requests WHERE model_id = $1 AND state = 'pending'
	`, modelID).Scan(&n)
	return n, err
}

func (s *Store) RequestStats(ctx context.Context) (map[update.State]int, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM update_requests GROUP BY state
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[update.State]int{
		update.StatePending:  0,
		update.StateApproved: 0,
		update.StateRejected: 0,
	}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		stats[update.State(state)] = n
	}
	return stats, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
