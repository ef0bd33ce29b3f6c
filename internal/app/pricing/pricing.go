// Package pricing maps operation shapes to token costs. All functions are
// pure and total over their inputs.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDimensions reports non-positive grid dimensions.
	ErrInvalidDimensions = errors.New("grid dimensions must be positive integers")
	// ErrInvalidCount reports a negative cell-edit count.
	ErrInvalidCount = errors.New("cell count must be non-negative")
)

var (
	// UnitCreationRate is charged per cell when a grid model is created.
	UnitCreationRate = decimal.NewFromFloat(0.05)
	// UnitEditRate is charged per proposed cell edit for non-owners.
	UnitEditRate = decimal.NewFromFloat(0.35)
)

// CreationCost returns the cost of creating a width x height model, rounded
// to two decimals.
func CreationCost(width, height int) (decimal.Decimal, error) {
	if width <= 0 || height <= 0 {
		return decimal.Zero, ErrInvalidDimensions
	}
	cells := decimal.NewFromInt(int64(width) * int64(height))
	return cells.Mul(UnitCreationRate).Round(2), nil
}

// EditCost returns the cost of proposing count cell edits. Owners edit their
// own grids free of charge.
func EditCost(count int, isOwner bool) (decimal.Decimal, error) {
	if count < 0 {
		return decimal.Zero, ErrInvalidCount
	}
	if isOwner {
		return decimal.Zero, nil
	}
	return decimal.NewFromInt(int64(count)).Mul(UnitEditRate).Round(2), nil
}

// ExecutionCost returns the cost of running pathfinding over a model. It is
// priced identically to re-creating the grid: the cost recorded at creation.
func ExecutionCost(creationCost decimal.Decimal) decimal.Decimal {
	return creationCost.Round(2)
}
