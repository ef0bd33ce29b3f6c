// Package updates implements the cell-edit approval workflow: contributors
// submit paid edit requests against grids they do not own, and grid owners
// decide them in batches.
package updates

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/domain/grid"
	"github.com/crowdgrid/platform/internal/app/domain/update"
	"github.com/crowdgrid/platform/internal/app/metrics"
	"github.com/crowdgrid/platform/internal/app/pricing"
	ledgersvc "github.com/crowdgrid/platform/internal/app/services/ledger"
	"github.com/crowdgrid/platform/internal/app/storage"
	"github.com/crowdgrid/platform/pkg/logger"
)

var (
	// ErrNoEffectiveChanges reports a submission whose every edit matches the
	// value already stored in the grid.
	ErrNoEffectiveChanges = errors.New("no effective changes: all proposed values match the current grid")
	// ErrNoEdits reports an empty submission.
	ErrNoEdits = errors.New("at least one edit is required")
	// ErrInvalidCellValue reports an edit value outside {0, 1}.
	ErrInvalidCellValue = errors.New("cell value must be 0 or 1")
	// ErrNoDecisions reports an empty decide batch.
	ErrNoDecisions = errors.New("at least one decision is required")
)

// DuplicateCoordinateError reports two edits in one submission targeting the
// same cell.
type DuplicateCoordinateError struct {
	Coord grid.Coordinate
}

func (e *DuplicateCoordinateError) Error() string {
	return fmt.Sprintf("duplicate edit for coordinate %s", e.Coord)
}

// ProposedEdit is one cell change in a submission, already normalised to
// grid coordinates.
type ProposedEdit struct {
	X     int
	Y     int
	Value int
}

// Service implements the update-request workflow.
type Service struct {
	store  storage.Store
	ledger *ledgersvc.Service
	log    *logger.Logger
}

// New constructs the updates service.
func New(store storage.Store, ledger *ledgersvc.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("updates")
	}
	return &Service{store: store, ledger: ledger, log: log}
}

// SubmitResult reports the outcome of one submission. AppliedDirectly is set
// for owner submissions, which mutate the grid immediately and create no
// request row.
type SubmitResult struct {
	Request         update.Request
	AppliedDirectly bool
	EffectiveEdits  int
	Cost            decimal.Decimal
	BalanceAfter    decimal.Decimal
}

// Submit validates a batch of proposed edits against the target grid and
// either applies them directly (owner) or charges the requester and records
// a pending request (contributor). Edits that would not change the stored
// value are dropped before pricing; a submission left with no effective edits
// fails without charging anything.
func (s *Service) Submit(ctx context.Context, requesterID, modelID string, edits []ProposedEdit) (SubmitResult, error) {
	if len(edits) == 0 {
		return SubmitResult{}, ErrNoEdits
	}

	var (
		result SubmitResult
		emit   func()
	)
	err := s.store.InTx(ctx, func(tx storage.Stores) error {
		model, err := tx.GetModel(ctx, modelID)
		if err != nil {
			return err
		}

		effective, err := filterEdits(model, edits)
		if err != nil {
			return err
		}
		if len(effective) == 0 {
			return ErrNoEffectiveChanges
		}
		result.EffectiveEdits = len(effective)

		isOwner := requesterID == model.OwnerID
		cost, err := pricing.EditCost(len(effective), isOwner)
		if err != nil {
			return err
		}
		result.Cost = cost

		if isOwner {
			cells := grid.CloneCells(model.Cells)
			for _, e := range effective {
				cells[e.Y][e.X] = e.Value
			}
			if err := tx.ReplaceGrid(ctx, modelID, cells); err != nil {
				return err
			}
			result.AppliedDirectly = true

			balance, err := tx.GetAccount(ctx, requesterID)
			if err != nil {
				return err
			}
			result.BalanceAfter = balance.Balance
			return nil
		}

		balance, emitDebit, err := s.ledger.Debit(ctx, tx, requesterID, cost, "update_submit", modelID)
		if err != nil {
			return err
		}
		emit = emitDebit
		result.BalanceAfter = balance

		reqEdits := make([]update.Edit, len(effective))
		for i, e := range effective {
			reqEdits[i] = update.Edit{X: e.X, Y: e.Y, Value: e.Value}
		}
		created, err := tx.CreateRequest(ctx, update.Request{
			State:       update.StatePending,
			TotalCost:   cost,
			ModelID:     modelID,
			RequesterID: requesterID,
			Edits:       reqEdits,
		})
		if err != nil {
			return err
		}
		result.Request = created
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if emit != nil {
		emit()
	}

	if result.AppliedDirectly {
		s.log.WithField("model_id", modelID).
			WithField("requester_id", requesterID).
			Infof("owner applied %d edits directly", result.EffectiveEdits)
	} else {
		s.log.WithField("request_id", result.Request.ID).
			WithField("model_id", modelID).
			Infof("recorded pending request with %d edits for %s tokens",
				result.EffectiveEdits, result.Cost.StringFixed(2))
	}
	return result, nil
}

// filterEdits bounds-checks, rejects duplicates and invalid values, and drops
// edits whose value already matches the grid.
func filterEdits(model grid.Model, edits []ProposedEdit) ([]ProposedEdit, error) {
	seen := make(map[grid.Coordinate]struct{}, len(edits))
	effective := make([]ProposedEdit, 0, len(edits))
	for _, e := range edits {
		if e.Value != 0 && e.Value != 1 {
			return nil, ErrInvalidCellValue
		}
		c := grid.Coordinate{X: e.X, Y: e.Y}
		if err := model.CheckBounds(c); err != nil {
			return nil, err
		}
		if _, dup := seen[c]; dup {
			return nil, &DuplicateCoordinateError{Coord: c}
		}
		seen[c] = struct{}{}
		if model.At(c) == e.Value {
			continue
		}
		effective = append(effective, e)
	}
	return effective, nil
}

// Decision outcome codes for one batch item.
const (
	OutcomeApproved       = "approved"
	OutcomeRejected       = "rejected"
	OutcomeNotFound       = "not_found"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeAlreadyDecided = "already_decided"
	OutcomeInvalidAction  = "invalid_action"
)

// DecisionItem is one verdict in a batch decide call.
type DecisionItem struct {
	RequestID string
	Action    update.Action
}

// DecisionOutcome reports how one item of a batch fared. Detail is set only
// for non-success outcomes.
type DecisionOutcome struct {
	RequestID string
	Outcome   string
	Detail    string
}

// Decide processes a batch of owner verdicts in a single unit of work. Items
// are judged independently: an unusable item records its outcome and the rest
// of the batch proceeds. Approved edits targeting the same grid are merged
// and written back in one rewrite per grid, in batch order.
func (s *Service) Decide(ctx context.Context, ownerID string, items []DecisionItem) ([]DecisionOutcome, error) {
	if len(items) == 0 {
		return nil, ErrNoDecisions
	}

	outcomes := make([]DecisionOutcome, 0, len(items))
	err := s.store.InTx(ctx, func(tx storage.Stores) error {
		outcomes = outcomes[:0]

		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.RequestID)
		}
		fetched, err := tx.GetRequests(ctx, ids)
		if err != nil {
			return err
		}
		requests := make(map[string]update.Request, len(fetched))
		for _, r := range fetched {
			requests[r.ID] = r
		}

		models := make(map[string]grid.Model)
		pendingCells := make(map[string][][]int)
		decided := make(map[string]bool, len(items))

		for _, it := range items {
			if decided[it.RequestID] {
				outcomes = append(outcomes, DecisionOutcome{
					RequestID: it.RequestID,
					Outcome:   OutcomeAlreadyDecided,
					Detail:    "request decided earlier in this batch",
				})
				continue
			}
			if !it.Action.Valid() {
				outcomes = append(outcomes, DecisionOutcome{
					RequestID: it.RequestID,
					Outcome:   OutcomeInvalidAction,
					Detail:    fmt.Sprintf("unknown action %q", it.Action),
				})
				continue
			}
			req, ok := requests[it.RequestID]
			if !ok {
				outcomes = append(outcomes, DecisionOutcome{
					RequestID: it.RequestID,
					Outcome:   OutcomeNotFound,
					Detail:    "request does not exist",
				})
				continue
			}
			if req.State.Terminal() {
				outcomes = append(outcomes, DecisionOutcome{
					RequestID: it.RequestID,
					Outcome:   OutcomeAlreadyDecided,
					Detail:    fmt.Sprintf("request is already %s", req.State),
				})
				continue
			}

			model, ok := models[req.ModelID]
			if !ok {
				var err error
				model, err = tx.GetModel(ctx, req.ModelID)
				if err != nil {
					return err
				}
				models[req.ModelID] = model
			}
			if model.OwnerID != ownerID {
				outcomes = append(outcomes, DecisionOutcome{
					RequestID: it.RequestID,
					Outcome:   OutcomeUnauthorized,
					Detail:    "only the grid owner may decide this request",
				})
				continue
			}

			switch it.Action {
			case update.ActionApprove:
				cells, ok := pendingCells[req.ModelID]
				if !ok {
					cells = grid.CloneCells(model.Cells)
					pendingCells[req.ModelID] = cells
				}
				for _, e := range req.Edits {
					cells[e.Y][e.X] = e.Value
				}
				if err := tx.SetRequestState(ctx, req.ID, update.StateApproved); err != nil {
					return err
				}
				decided[req.ID] = true
				outcomes = append(outcomes, DecisionOutcome{RequestID: req.ID, Outcome: OutcomeApproved})
			case update.ActionReject:
				if err := tx.SetRequestState(ctx, req.ID, update.StateRejected); err != nil {
					return err
				}
				decided[req.ID] = true
				outcomes = append(outcomes, DecisionOutcome{RequestID: req.ID, Outcome: OutcomeRejected})
			}
		}

		for modelID, cells := range pendingCells {
			if err := tx.ReplaceGrid(ctx, modelID, cells); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, o := range outcomes {
		metrics.RecordDecision(o.Outcome)
	}
	s.log.WithField("owner_id", ownerID).
		Infof("decided batch of %d requests", len(items))
	return outcomes, nil
}

// PendingForOwner lists pending requests against any grid the owner holds,
// newest first.
func (s *Service) PendingForOwner(ctx context.Context, ownerID string, limit, offset int) ([]update.Request, int, error) {
	return s.store.ListPendingByOwner(ctx, ownerID, limit, offset)
}

// History lists a model's update requests, optionally narrowed by state and
// creation-time window.
func (s *Service) History(ctx context.Context, modelID string, f update.Filters, limit, offset int) ([]update.Request, int, error) {
	if _, err := s.store.GetModel(ctx, modelID); err != nil {
		return nil, 0, err
	}
	return s.store.ListByModel(ctx, modelID, f, limit, offset)
}

// Get returns a single request with its edits.
func (s *Service) Get(ctx context.Context, requestID string) (update.Request, error) {
	return s.store.GetRequest(ctx, requestID)
}
