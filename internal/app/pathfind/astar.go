// Package pathfind provides the A* engine used to execute grid models. The
// rest of the system treats it as an opaque collaborator: it is handed a
// validated grid plus start/goal pair and returns an ordered path, empty when
// the goal is unreachable.
package pathfind

import (
	"container/heap"

	"github.com/crowdgrid/platform/internal/app/domain/grid"
)

// Engine runs A* over a binary obstacle grid. Cells with value 1 are blocked.
type Engine struct {
	// DiagonalAllowed permits 8-directional movement.
	DiagonalAllowed bool
}

// NewEngine returns an engine with diagonal movement enabled, matching the
// platform's documented execution semantics.
func NewEngine() *Engine {
	return &Engine{DiagonalAllowed: true}
}

// FindPath returns the coordinates from start to goal inclusive, or an empty
// slice when no path exists. Coordinates must already be validated as
// in-bounds.
func (e *Engine) FindPath(m grid.Model, start, goal grid.Coordinate) []grid.Coordinate {
	if m.At(start) != 0 || m.At(goal) != 0 {
		return nil
	}

	open := &nodeHeap{}
	heap.Init(open)

	gScore := map[grid.Coordinate]int{start: 0}
	cameFrom := map[grid.Coordinate]grid.Coordinate{}
	closed := map[grid.Coordinate]bool{}

	heap.Push(open, node{pos: start, f: manhattan(start, goal)})

	for open.Len() > 0 {
		current := heap.Pop(open).(node)
		if current.pos == goal {
			return reconstruct(cameFrom, goal)
		}
		if closed[current.pos] {
			continue
		}
		closed[current.pos] = true

		for _, next := range e.neighbors(m, current.pos) {
			if closed[next] {
				continue
			}
			tentative := gScore[current.pos] + stepCost(current.pos, next)
			if known, ok := gScore[next]; ok && tentative >= known {
				continue
			}
			gScore[next] = tentative
			cameFrom[next] = current.pos
			heap.Push(open, node{pos: next, f: tentative + manhattan(next, goal)})
		}
	}

	return nil
}

func (e *Engine) neighbors(m grid.Model, c grid.Coordinate) []grid.Coordinate {
	deltas := [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	if e.DiagonalAllowed {
		deltas = append(deltas, [2]int{1, 1}, [2]int{1, -1}, [2]int{-1, 1}, [2]int{-1, -1})
	}

	out := make([]grid.Coordinate, 0, len(deltas))
	for _, d := range deltas {
		next := grid.Coordinate{X: c.X + d[0], Y: c.Y + d[1]}
		if !m.Contains(next) || m.At(next) != 0 {
			continue
		}
		out = append(out, next)
	}
	return out
}

// stepCost weights diagonal steps slightly above orthogonal ones so straight
// segments are preferred when path lengths tie.
func stepCost(from, to grid.Coordinate) int {
	if from.X != to.X && from.Y != to.Y {
		return 14
	}
	return 10
}

func manhattan(a, b grid.Coordinate) int {
	return 10 * (abs(a.X-b.X) + abs(a.Y-b.Y))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func reconstruct(cameFrom map[grid.Coordinate]grid.Coordinate, goal grid.Coordinate) []grid.Coordinate {
	path := []grid.Coordinate{goal}
	for {
		prev, ok := cameFrom[path[len(path)-1]]
		if !ok {
			break
		}
		path = append(path, prev)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type node struct {
	pos grid.Coordinate
	f   int
}

type nodeHeap []node

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].f < h[j].f }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(node)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
