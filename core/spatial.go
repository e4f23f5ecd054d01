package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// CellGrid is a linked-cell spatial index over agents and obstacles. Queries
// return a superset of the true matches: every element whose cell overlaps the
// query disc is a candidate, and agents are then filtered by centre distance
// minus their radius.
type CellGrid struct {
	origin   r2.Vec
	cellSize float64
	cols     int
	rows     int

	agents    [][]*Agent
	obstacles [][]Obstacle
	maxRadius float64
}

// NewCellGrid creates a grid covering bounds with square cells of cellSize.
func NewCellGrid(bounds Box, cellSize float64) *CellGrid {
	if cellSize <= 0 {
		cellSize = 1
	}
	cols := int((bounds.Max.X-bounds.Min.X)/cellSize) + 1
	rows := int((bounds.Max.Y-bounds.Min.Y)/cellSize) + 1

	g := &CellGrid{
		origin:    bounds.Min,
		cellSize:  cellSize,
		cols:      cols,
		rows:      rows,
		agents:    make([][]*Agent, cols*rows),
		obstacles: make([][]Obstacle, cols*rows),
	}
	for i := range g.agents {
		g.agents[i] = make([]*Agent, 0, 4)
	}
	return g
}

// Clear removes all agents. Obstacles are kept since they never move.
func (g *CellGrid) Clear() {
	for i := range g.agents {
		g.agents[i] = g.agents[i][:0]
	}
}

// Insert adds a at its current position.
func (g *CellGrid) Insert(a *Agent) {
	idx := g.cellIndex(a.Position)
	g.agents[idx] = append(g.agents[idx], a)
	if a.Radius > g.maxRadius {
		g.maxRadius = a.Radius
	}
}

// Remove deletes a from the cell covering pos.
func (g *CellGrid) Remove(a *Agent, pos r2.Vec) bool {
	idx := g.cellIndex(pos)
	cell := g.agents[idx]
	for i, other := range cell {
		if other == a {
			cell[i] = cell[len(cell)-1]
			g.agents[idx] = cell[:len(cell)-1]
			return true
		}
	}
	return false
}

// Move relocates a after it walked from `from` to its current position.
func (g *CellGrid) Move(a *Agent, from r2.Vec) {
	if g.cellIndex(from) == g.cellIndex(a.Position) {
		return
	}
	if !g.Remove(a, from) {
		// Unknown position: fall back to a scan so the index never keeps a
		// stale entry.
		g.removeAnywhere(a)
	}
	g.Insert(a)
}

func (g *CellGrid) removeAnywhere(a *Agent) {
	for idx, cell := range g.agents {
		for i, other := range cell {
			if other == a {
				cell[i] = cell[len(cell)-1]
				g.agents[idx] = cell[:len(cell)-1]
				return
			}
		}
	}
}

// AddObstacle registers o in every cell its bounds overlap.
func (g *CellGrid) AddObstacle(o Obstacle) {
	b := o.Shape.Bounds()
	c0, r0 := g.cellCoords(b.Min)
	c1, r1 := g.cellCoords(b.Max)
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			idx := r*g.cols + c
			g.obstacles[idx] = append(g.obstacles[idx], o)
		}
	}
}

// Neighbors returns agents whose body may intersect the disc (center, radius).
func (g *CellGrid) Neighbors(center r2.Vec, radius float64) []*Agent {
	var out []*Agent
	// Widen the cell range so bodies whose centre lies just outside the disc
	// are still visited.
	g.visit(center, radius+g.maxRadius, func(idx int) {
		for _, a := range g.agents[idx] {
			if Distance(a.Position, center)-a.Radius <= radius {
				out = append(out, a)
			}
		}
	})
	return out
}

// ObstaclesNear returns obstacles registered in cells overlapping the disc
// (p, radius), each at most once.
func (g *CellGrid) ObstaclesNear(p r2.Vec, radius float64) []Obstacle {
	var out []Obstacle
	seen := make(map[int]struct{})
	g.visit(p, radius, func(idx int) {
		for _, o := range g.obstacles[idx] {
			if _, dup := seen[o.ID]; dup {
				continue
			}
			seen[o.ID] = struct{}{}
			out = append(out, o)
		}
	})
	return out
}

func (g *CellGrid) visit(center r2.Vec, radius float64, fn func(idx int)) {
	c0, r0 := g.cellCoords(r2.Vec{X: center.X - radius, Y: center.Y - radius})
	c1, r1 := g.cellCoords(r2.Vec{X: center.X + radius, Y: center.Y + radius})
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			fn(r*g.cols + c)
		}
	}
}

// cellCoords clamps positions outside the grid to its border cells.
func (g *CellGrid) cellCoords(p r2.Vec) (col, row int) {
	col = int(math.Floor((p.X - g.origin.X) / g.cellSize))
	row = int(math.Floor((p.Y - g.origin.Y) / g.cellSize))

	if col < 0 {
		col = 0
	} else if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

func (g *CellGrid) cellIndex(p r2.Vec) int {
	col, row := g.cellCoords(p)
	return row*g.cols + col
}
