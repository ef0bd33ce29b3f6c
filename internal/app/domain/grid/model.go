// Package grid defines the persisted obstacle-grid model.
package grid

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Coordinate addresses a single cell. X indexes columns, Y rows; Cells[y][x]
// is the stored value.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coordinate) String() string { return fmt.Sprintf("(%d, %d)", c.X, c.Y) }

// Model is a binary obstacle grid with fixed dimensions and an owning
// account. The grid is never resized after creation; CreationCost is recorded
// at creation time and immutable thereafter.
type Model struct {
	ID           string
	Name         string
	Width        int
	Height       int
	Cells        [][]int
	CreationCost decimal.Decimal
	OwnerID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OutOfBoundsError reports a coordinate outside a grid's bounds.
type OutOfBoundsError struct {
	Coord  Coordinate
	Width  int
	Height int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("coordinate %s outside grid bounds (%dx%d)", e.Coord, e.Width, e.Height)
}

// CheckBounds returns an OutOfBoundsError for the first coordinate not
// contained in the model.
func (m Model) CheckBounds(coords ...Coordinate) error {
	for _, c := range coords {
		if !m.Contains(c) {
			return &OutOfBoundsError{Coord: c, Width: m.Width, Height: m.Height}
		}
	}
	return nil
}

// Contains reports whether the coordinate lies within the grid bounds.
func (m Model) Contains(c Coordinate) bool {
	return c.X >= 0 && c.X < m.Width && c.Y >= 0 && c.Y < m.Height
}

// At returns the stored value of the cell at c. The caller is responsible for
// bounds checking.
func (m Model) At(c Coordinate) int { return m.Cells[c.Y][c.X] }

// CloneCells returns a deep copy of the grid payload, suitable for staging a
// batch of edits before a whole-grid replace.
func CloneCells(cells [][]int) [][]int {
	out := make([][]int, len(cells))
	for y, row := range cells {
		out[y] = make([]int, len(row))
		copy(out[y], row)
	}
	return out
}

// ErrInvalidGrid marks a malformed grid payload; validation failures wrap it
// with the offending detail.
var ErrInvalidGrid = errors.New("invalid grid")

// ValidateCells checks that a grid payload is non-empty, rectangular and
// binary, returning its width and height.
func ValidateCells(cells [][]int) (width, height int, err error) {
	if len(cells) == 0 || len(cells[0]) == 0 {
		return 0, 0, fmt.Errorf("%w: grid must have at least one row and one column", ErrInvalidGrid)
	}
	width = len(cells[0])
	height = len(cells)
	for y, row := range cells {
		if len(row) != width {
			return 0, 0, fmt.Errorf("%w: row %d has %d cells, want %d", ErrInvalidGrid, y, len(row), width)
		}
		for x, v := range row {
			if v != 0 && v != 1 {
				return 0, 0, fmt.Errorf("%w: cell (%d, %d) must be 0 or 1, got %d", ErrInvalidGrid, x, y, v)
			}
		}
	}
	return width, height, nil
}
