package pathfind

import (
	"testing"

	"github.com/crowdgrid/platform/internal/app/domain/grid"
)

func testModel(cells [][]int) grid.Model {
	return grid.Model{
		Width:  len(cells[0]),
		Height: len(cells),
		Cells:  cells,
	}
}

func TestFindPathOpenGrid(t *testing.T) {
	m := testModel([][]int{
		{0, 0, 0},
		{0, 0, 0},
		{0, 0, 0},
	})

	path := NewEngine().FindPath(m, grid.Coordinate{X: 0, Y: 0}, grid.Coordinate{X: 2, Y: 2})
	if len(path) == 0 {
		t.Fatal("expected a path on an open grid")
	}
	if path[0] != (grid.Coordinate{X: 0, Y: 0}) {
		t.Fatalf("path must begin at start, got %s", path[0])
	}
	if path[len(path)-1] != (grid.Coordinate{X: 2, Y: 2}) {
		t.Fatalf("path must end at goal, got %s", path[len(path)-1])
	}
	// Diagonal movement allows the direct 3-cell route.
	if len(path) != 3 {
		t.Fatalf("expected 3-cell diagonal path, got %d cells: %v", len(path), path)
	}
}

func TestFindPathAroundObstacles(t *testing.T) {
	m := testModel([][]int{
		{0, 1, 0},
		{0, 1, 0},
		{0, 0, 0},
	})

	path := NewEngine().FindPath(m, grid.Coordinate{X: 0, Y: 0}, grid.Coordinate{X: 2, Y: 0})
	if len(path) == 0 {
		t.Fatal("expected a path around the wall")
	}
	for _, c := range path {
		if m.At(c) != 0 {
			t.Fatalf("path crosses blocked cell %s", c)
		}
	}
}

func TestFindPathUnreachable(t *testing.T) {
	m := testModel([][]int{
		{0, 1, 0},
		{1, 1, 0},
		{0, 0, 0},
	})

	path := NewEngine().FindPath(m, grid.Coordinate{X: 0, Y: 0}, grid.Coordinate{X: 2, Y: 2})
	if len(path) != 0 {
		t.Fatalf("expected no path, got %v", path)
	}
}

func TestFindPathBlockedEndpoint(t *testing.T) {
	m := testModel([][]int{
		{0, 0},
		{0, 1},
	})

	if path := NewEngine().FindPath(m, grid.Coordinate{X: 0, Y: 0}, grid.Coordinate{X: 1, Y: 1}); len(path) != 0 {
		t.Fatalf("expected no path into a blocked goal, got %v", path)
	}
	if path := NewEngine().FindPath(m, grid.Coordinate{X: 1, Y: 1}, grid.Coordinate{X: 0, Y: 0}); len(path) != 0 {
		t.Fatalf("expected no path from a blocked start, got %v", path)
	}
}

func TestFindPathNoDiagonals(t *testing.T) {
	m := testModel([][]int{
		{0, 0},
		{0, 0},
	})

	e := &Engine{DiagonalAllowed: false}
	path := e.FindPath(m, grid.Coordinate{X: 0, Y: 0}, grid.Coordinate{X: 1, Y: 1})
	if len(path) != 3 {
		t.Fatalf("expected 3-cell orthogonal path, got %v", path)
	}
	for i := 1; i < len(path); i++ {
		if path[i].X != path[i-1].X && path[i].Y != path[i-1].Y {
			t.Fatalf("diagonal step %s -> %s with diagonals disabled", path[i-1], path[i])
		}
	}
}
