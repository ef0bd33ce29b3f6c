// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It is intended for tests and local development and
// mirrors the transactional semantics of the relational store: InTx applies
// changes to a deep copy and swaps it in only when the body succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/domain/update"
	"github.com/crowdgrid/platform/internal/app/storage"
)

// Store is the in-memory persistence layer.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ storage.Store = (*Store)(nil)

type state struct {
	accounts map[string]account.Account
	emails   map[string]string // email -> account id
	models   map[string]grid.Model
	requests map[string]update.Request
}

func newState() *state {
	return &state{
		accounts: make(map[string]account.Account),
		emails:   make(map[string]string),
		models:   make(map[string]grid.Model),
		requests: make(map[string]update.Request),
	}
}

func (s *state) clone() *state {
	out := newState()
	for id, a := range s.accounts {
		out.accounts[id] = a
	}
	for email, id := range s.emails {
		out.emails[email] = id
	}
	for id, m := range s.models {
		out.models[id] = cloneModel(m)
	}
	for id, r := range s.requests {
		out.requests[id] = cloneRequest(r)
	}
	return out
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a copy of the current state and commits the copy only
// when fn returns nil. The store lock is held for the duration, so the
// read-check-write sequences inside fn are atomic with respect to other
// callers.
func (s *Store) InTx(_ context.Context, fn func(tx storage.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.st.clone()
	if err := fn(&view{st: working}); err != nil {
		return err
	}
	s.st = working
	return nil
}

// view exposes the storage interfaces over a state snapshot without locking;
// isolation is the caller's concern.
type view struct {
	st *state
}

var _ storage.Stores = (*view)(nil)

// Store methods delegate to a view under the appropriate lock -----------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{st: s.st}).CreateAccount(ctx, acct)
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).GetAccount(ctx, id)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).GetAccountByEmail(ctx, email)
}

func (s *Store) ListAccounts(ctx context.Context, limit, offset int) ([]account.Account, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).ListAccounts(ctx, limit, offset)
}

func (s *Store) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{st: s.st}).SetBalance(ctx, id, balance)
}

func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).CountAccounts(ctx)
}

func (s *Store) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).TotalBalance(ctx)
}

func (s *Store) CreateModel(ctx context.Context, m grid.Model) (grid.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{st: s.st}).CreateModel(ctx, m)
}

func (s *Store) GetModel(ctx context.Context, id string) (grid.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).GetModel(ctx, id)
}

func (s *Store) ListModelsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]grid.Model, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).ListModelsByOwner(ctx, ownerID, limit, offset)
}

func (s *Store) ReplaceGrid(ctx context.Context, modelID string, cells [][]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{st: s.st}).ReplaceGrid(ctx, modelID, cells)
}

func (s *Store) ReadCell(ctx context.Context, modelID string, x, y int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).ReadCell(ctx, modelID, x, y)
}

func (s *Store) CountModels(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).CountModels(ctx)
}

func (s *Store) CreateRequest(ctx context.Context, req update.Request) (update.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{st: s.st}).CreateRequest(ctx, req)
}

func (s *Store) GetRequest(ctx context.Context, id string) (update.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).GetRequest(ctx, id)
}

func (s *Store) GetRequests(ctx context.Context, ids []string) ([]update.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).GetRequests(ctx, ids)
}

func (s *Store) SetRequestState(ctx context.Context, id string, st update.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{st: s.st}).SetRequestState(ctx, id, st)
}

func (s *Store) ListPendingByOwner(ctx context.Context, ownerID string, limit, offset int) ([]update.Request, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).ListPendingByOwner(ctx, ownerID, limit, offset)
}

func (s *Store) ListByModel(ctx context.Context, modelID string, f update.Filters, limit, offset int) ([]update.Request, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).ListByModel(ctx, modelID, f, limit, offset)
}

func (s *Store) CountPendingByModel(ctx context.Context, modelID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).CountPendingByModel(ctx, modelID)
}

func (s *Store) RequestStats(ctx context.Context) (map[update.State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{st: s.st}).RequestStats(ctx)
}

// AccountStore ----------------------------------------------------------------

func (v *view) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if _, exists := v.st.emails[acct.Email]; exists {
		return account.Account{}, storage.ErrConflict
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	v.st.accounts[acct.ID] = acct
	v.st.emails[acct.Email] = acct.ID
	return acct, nil
}

func (v *view) GetAccount(_ context.Context, id string) (account.Account, error) {
	acct, ok := v.st.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (v *view) GetAccountByEmail(_ context.Context, email string) (account.Account, error) {
	id, ok := v.st.emails[email]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return v.st.accounts[id], nil
}

func (v *view) ListAccounts(_ context.Context, limit, offset int) ([]account.Account, int, error) {
	all := make([]account.Account, 0, len(v.st.accounts))
	for _, a := range v.st.accounts {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	return page(all, limit, offset), total, nil
}

func (v *view) SetBalance(_ context.Context, id string, balance decimal.Decimal) error {
	acct, ok := v.st.accounts[id]
	if !ok {
		return storage.ErrNotFound
	}
	acct.Balance = balance
	acct.UpdatedAt = time.Now().UTC()
	v.st.accounts[id] = acct
	return nil
}

func (v *view) CountAccounts(_ context.Context) (int, error) {
	return len(v.st.accounts), nil
}

func (v *view) TotalBalance(_ context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range v.st.accounts {
		total = total.Add(a.Balance)
	}
	return total, nil
}

// GridStore -------------------------------------------------------------------

func (v *view) CreateModel(_ context.Context, m grid.Model) (grid.Model, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Cells = grid.CloneCells(m.Cells)

	v.st.models[m.ID] = m
	return cloneModel(m), nil
}

func (v *view) GetModel(_ context.Context, id string) (grid.Model, error) {
	m, ok := v.st.models[id]
	if !ok {
		return grid.Model{}, storage.ErrNotFound
	}
	return cloneModel(m), nil
}

func (v *view) ListModelsByOwner(_ context.Context, ownerID string, limit, offset int) ([]grid.Model, int, error) {
	var all []grid.Model
	for _, m := range v.st.models {
		if m.OwnerID == ownerID {
			all = append(all, cloneModel(m))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	return page(all, limit, offset), total, nil
}

func (v *view) ReplaceGrid(_ context.Context, modelID string, cells [][]int) error {
	m, ok := v.st.models[modelID]
	if !ok {
		return storage.ErrNotFound
	}
	m.Cells = grid.CloneCells(cells)
	m.UpdatedAt = time.Now().UTC()
	v.st.models[modelID] = m
	return nil
}

func (v *view) ReadCell(_ context.Context, modelID string, x, y int) (int, error) {
	m, ok := v.st.models[modelID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	c := grid.Coordinate{X: x, Y: y}
	if err := m.CheckBounds(c); err != nil {
		return 0, err
	}
	return m.At(c), nil
}

func (v *view) CountModels(_ context.Context) (int, error) {
	return len(v.st.models), nil
}

// UpdateStore -----------------------------------------------------------------

func (v *view) CreateRequest(_ context.Context, req update.Request) (update.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	for i := range req.Edits {
		if req.Edits[i].ID == "" {
			req.Edits[i].ID = uuid.NewString()
		}
		req.Edits[i].RequestID = req.ID
	}

	v.st.requests[req.ID] = cloneRequest(req)
	return cloneRequest(req), nil
}

func (v *view) GetRequest(_ context.Context, id string) (update.Request, error) {
	req, ok := v.st.requests[id]
	if !ok {
		return update.Request{}, storage.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (v *view) GetRequests(_ context.Context, ids []string) ([]update.Request, error) {
	out := make([]update.Request, 0, len(ids))
	for _, id := range ids {
		if req, ok := v.st.requests[id]; ok {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (v *view) SetRequestState(_ context.Context, id string, st update.State) error {
	req, ok := v.st.requests[id]
	if !ok {
		return storage.ErrNotFound
	}
	req.State = st
	req.UpdatedAt = time.Now().UTC()
	v.st.requests[id] = req
	return nil
}

func (v *view) ListPendingByOwner(_ context.Context, ownerID string, limit, offset int) ([]update.Request, int, error) {
	var all []update.Request
	for _, req := range v.st.requests {
		if req.State != update.StatePending {
			continue
		}
		m, ok := v.st.models[req.ModelID]
		if !ok || m.OwnerID != ownerID {
			continue
		}
		all = append(all, cloneRequest(req))
	}
	sortRequests(all)
	total := len(all)
	return page(all, limit, offset), total, nil
}

func (v *view) ListByModel(_ context.Context, modelID string, f update.Filters, limit, offset int) ([]update.Request, int, error) {
	var all []update.Request
	for _, req := range v.st.requests {
		if req.ModelID != modelID {
			continue
		}
		if f.State != nil && req.State != *f.State {
			continue
		}
		if f.From != nil && req.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && req.CreatedAt.After(*f.To) {
			continue
		}
		all = append(all, cloneRequest(req))
	}
	sortRequests(all)
	total := len(all)
	return page(all, limit, offset), total, nil
}

func (v *view) CountPendingByModel(_ context.Context, modelID string) (int, error) {
	count := 0
	for _, req := range v.st.requests {
		if req.ModelID == modelID && req.State == update.StatePending {
			count++
		}
	}
	return count, nil
}

func (v *view) RequestStats(_ context.Context) (map[update.State]int, error) {
	stats := map[update.State]int{
		update.StatePending:  0,
		update.StateApproved: 0,
		update.StateRejected: 0,
	}
	for _, req := range v.st.requests {
		stats[req.State]++
	}
	return stats, nil
}

// helpers ---------------------------------------------------------------------

func cloneModel(m grid.Model) grid.Model {
	m.Cells = grid.CloneCells(m.Cells)
	return m
}

func cloneRequest(r update.Request) update.Request {
	edits := make([]update.Edit, len(r.Edits))
	copy(edits, r.Edits)
	r.Edits = edits
	return r
}

func sortRequests(reqs []update.Request) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
