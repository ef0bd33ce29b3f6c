// Package models manages grid model creation, pathfinding execution and
// model queries.
package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/metrics"
	"github.com/crowdgrid/platform/internal/app/pricing"
	ledgersvc "github.com/crowdgrid/platform/internal/app/services/ledger"
	"github.com/crowdgrid/platform/internal/app/storage"
	"github.com/crowdgrid/platform/pkg/logger"
)

var (
	// ErrStartEqualsGoal reports a pathfinding request whose endpoints coincide.
	ErrStartEqualsGoal = errors.New("start and goal coordinates must differ")
	// ErrNameRequired reports a model creation without a name.
	ErrNameRequired = errors.New("model name is required")
)

// Pathfinder produces a path over a validated grid; an empty path means the
// goal is unreachable.
type Pathfinder interface {
	FindPath(m grid.Model, start, goal grid.Coordinate) []grid.Coordinate
}

// Service implements grid model operations.
type Service struct {
	store  storage.Store
	ledger *ledgersvc.Service
	finder Pathfinder
	log    *logger.Logger
}

// New constructs the models service.
func New(store storage.Store, ledger *ledgersvc.Service, finder Pathfinder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("models")
	}
	return &Service{store: store, ledger: ledger, finder: finder, log: log}
}

// CreateResult reports a successful model creation.
type CreateResult struct {
	Model        grid.Model
	Cost         decimal.Decimal
	BalanceAfter decimal.Decimal
}

// Create validates the grid payload, charges the creation cost and persists
// the model, all inside one unit of work: either the debit and the insert
// both land, or neither does.
func (s *Service) Create(ctx context.Context, ownerID, name string, cells [][]int) (CreateResult, error) {
	if name == "" {
		return CreateResult{}, ErrNameRequired
	}
	width, height, err := grid.ValidateCells(cells)
	if err != nil {
		return CreateResult{}, err
	}

	cost, err := pricing.CreationCost(width, height)
	if err != nil {
		return CreateResult{}, err
	}

	var (
		result CreateResult
		emit   func()
	)
	err = s.store.InTx(ctx, func(tx storage.Stores) error {
		balance, emitDebit, err := s.ledger.Debit(ctx, tx, ownerID, cost, "model_create", "")
		if err != nil {
			return err
		}
		emit = emitDebit

		created, err := tx.CreateModel(ctx, grid.Model{
			Name:         name,
			Width:        width,
			Height:       height,
			Cells:        cells,
			CreationCost: cost,
			OwnerID:      ownerID,
		})
		if err != nil {
			return err
		}

		result = CreateResult{Model: created, Cost: cost, BalanceAfter: balance}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	emit()

	s.log.WithField("model_id", result.Model.ID).
		WithField("owner_id", ownerID).
		Infof("created %dx%d model for %s tokens", width, height, cost.StringFixed(2))
	return result, nil
}

// ExecuteResult reports one pathfinding run.
type ExecuteResult struct {
	ModelID      string
	Start        grid.Coordinate
	Goal         grid.Coordinate
	Path         []grid.Coordinate
	PathFound    bool
	StepCost     int
	Elapsed      time.Duration
	Cost         decimal.Decimal
	BalanceAfter decimal.Decimal
}

// Execute runs pathfinding over a model. The execution cost equals the
// model's recorded creation cost and is debited before the engine runs;
// validation failures charge nothing.
func (s *Service) Execute(ctx context.Context, callerID, modelID string, start, goal grid.Coordinate) (ExecuteResult, error) {
	var (
		result ExecuteResult
		model  grid.Model
		emit   func()
	)

	err := s.store.InTx(ctx, func(tx storage.Stores) error {
		var err error
		model, err = tx.GetModel(ctx, modelID)
		if err != nil {
			return err
		}

		if err := model.CheckBounds(start, goal); err != nil {
			return err
		}
		if start == goal {
			return ErrStartEqualsGoal
		}

		cost := pricing.ExecutionCost(model.CreationCost)
		balance, emitDebit, err := s.ledger.Debit(ctx, tx, callerID, cost, "model_execute", modelID)
		if err != nil {
			return err
		}
		emit = emitDebit

		result.Cost = cost
		result.BalanceAfter = balance
		return nil
	})
	if err != nil {
		return ExecuteResult{}, err
	}
	emit()

	started := time.Now()
	path := s.finder.FindPath(model, start, goal)
	elapsed := time.Since(started)
	metrics.RecordPathfind(len(path) > 0, elapsed)

	result.ModelID = modelID
	result.Start = start
	result.Goal = goal
	result.Path = path
	result.PathFound = len(path) > 0
	result.Elapsed = elapsed
	if len(path) > 0 {
		result.StepCost = len(path) - 1
	}
	return result, nil
}

// Status reports whether a model has pending update requests.
type Status struct {
	ModelID      string
	Name         string
	PendingCount int
}

// GetStatus returns the pending-request status of a model.
func (s *Service) GetStatus(ctx context.Context, modelID string) (Status, error) {
	model, err := s.store.GetModel(ctx, modelID)
	if err != nil {
		return Status{}, err
	}
	pending, err := s.store.CountPendingByModel(ctx, modelID)
	if err != nil {
		return Status{}, err
	}
	return Status{ModelID: model.ID, Name: model.Name, PendingCount: pending}, nil
}

// Get returns a model by id.
func (s *Service) Get(ctx context.Context, modelID string) (grid.Model, error) {
	return s.store.GetModel(ctx, modelID)
}

// ReadCell returns the value of a single cell without loading the whole grid.
func (s *Service) ReadCell(ctx context.Context, modelID string, x, y int) (int, error) {
	return s.store.ReadCell(ctx, modelID, x, y)
}

// ListByOwner returns the caller's models, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]grid.Model, int, error) {
	return s.store.ListModelsByOwner(ctx, ownerID, limit, offset)
}
