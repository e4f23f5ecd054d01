package core

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrAgentExists indicates an agent with the same ID is already present.
	ErrAgentExists = errors.New("agent already exists")
	// ErrAgentNotFound indicates the agent is not part of the topography.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrTargetNotFound indicates a referenced target does not exist.
	ErrTargetNotFound = errors.New("target not found")
)

// AgentListener is notified when agents enter or leave the topography.
type AgentListener interface {
	AgentAdded(a *Agent)
	AgentRemoved(a *Agent)
}

// Topography holds the static scenery (bounds, obstacles, targets) and the
// live agent population together with the spatial index over both.
//
// A Topography is owned by the simulation goroutine and is not safe for
// concurrent use.
type Topography struct {
	Bounds    Box
	obstacles []Obstacle
	targets   map[int]*Target

	agents    map[int]*Agent
	order     []*Agent // sorted by ID; nil when stale
	nextID    int
	listeners []AgentListener

	cellSize       float64
	grid           *CellGrid
	recomputeCells bool
}

// NewTopography creates an empty topography.
func NewTopography(bounds Box, cellSize float64) *Topography {
	return &Topography{
		Bounds:   bounds,
		targets:  make(map[int]*Target),
		agents:   make(map[int]*Agent),
		nextID:   1,
		cellSize: cellSize,
		grid:     NewCellGrid(bounds, cellSize),
	}
}

// AddObstacle registers a static obstacle.
func (t *Topography) AddObstacle(o Obstacle) {
	t.obstacles = append(t.obstacles, o)
	t.grid.AddObstacle(o)
}

// Obstacles returns all obstacles.
func (t *Topography) Obstacles() []Obstacle { return t.obstacles }

// AddTarget registers a target area.
func (t *Topography) AddTarget(target *Target) {
	t.targets[target.ID] = target
}

// Target looks up a target by id.
func (t *Topography) Target(id int) (*Target, error) {
	target, ok := t.targets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	return target, nil
}

// CurrentTarget resolves the target the agent is heading for.
func (t *Topography) CurrentTarget(a *Agent) (*Target, bool) {
	id, ok := a.CurrentTarget()
	if !ok {
		return nil, false
	}
	target, ok := t.targets[id]
	return target, ok
}

// AddListener registers l for agent add/remove notifications.
func (t *Topography) AddListener(l AgentListener) {
	t.listeners = append(t.listeners, l)
}

// NextAgentID reserves a fresh agent id.
func (t *Topography) NextAgentID() int {
	id := t.nextID
	t.nextID++
	return id
}

// AddAgent inserts a into the population and the spatial index.
func (t *Topography) AddAgent(a *Agent) error {
	if _, exists := t.agents[a.ID]; exists {
		return fmt.Errorf("%w: %d", ErrAgentExists, a.ID)
	}
	if a.ID >= t.nextID {
		t.nextID = a.ID + 1
	}
	t.agents[a.ID] = a
	t.order = nil
	t.grid.Insert(a)
	for _, l := range t.listeners {
		l.AgentAdded(a)
	}
	return nil
}

// RemoveAgent takes a out of the population and the spatial index.
func (t *Topography) RemoveAgent(a *Agent) error {
	if _, ok := t.agents[a.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrAgentNotFound, a.ID)
	}
	delete(t.agents, a.ID)
	t.order = nil
	if !t.grid.Remove(a, a.Position) {
		t.grid.removeAnywhere(a)
	}
	for _, l := range t.listeners {
		l.AgentRemoved(a)
	}
	return nil
}

// Agent looks up an agent by id.
func (t *Topography) Agent(id int) (*Agent, bool) {
	a, ok := t.agents[id]
	return a, ok
}

// Agents returns the population ordered by id. The slice is shared; callers
// must not modify it.
func (t *Topography) Agents() []*Agent {
	if t.order == nil {
		t.order = make([]*Agent, 0, len(t.agents))
		for _, a := range t.agents {
			t.order = append(t.order, a)
		}
		sort.Slice(t.order, func(i, j int) bool { return t.order[i].ID < t.order[j].ID })
	}
	return t.order
}

// AgentCount returns the population size.
func (t *Topography) AgentCount() int { return len(t.agents) }

// Moved updates the spatial index after a walked from `from`.
func (t *Topography) Moved(a *Agent, from r2.Vec) {
	t.grid.Move(a, from)
}

// Relocate places a at pos, as teleporters do, keeping the index current.
func (t *Topography) Relocate(a *Agent, pos r2.Vec) {
	from := a.Position
	a.Position = pos
	t.grid.Move(a, from)
}

// FlagRecomputeCells requests a full spatial index rebuild before the next
// navigation pass.
func (t *Topography) FlagRecomputeCells() { t.recomputeCells = true }

// RecomputeCellsIfFlagged rebuilds the spatial index when requested and
// reports whether it did.
func (t *Topography) RecomputeCellsIfFlagged() bool {
	if !t.recomputeCells {
		return false
	}
	t.grid = NewCellGrid(t.Bounds, t.cellSize)
	for _, o := range t.obstacles {
		t.grid.AddObstacle(o)
	}
	for _, a := range t.Agents() {
		t.grid.Insert(a)
	}
	t.recomputeCells = false
	return true
}

// Neighbors implements the spatial index contract for agents.
func (t *Topography) Neighbors(center r2.Vec, radius float64) []*Agent {
	return t.grid.Neighbors(center, radius)
}

// ObstaclesNear implements the spatial index contract for obstacles.
func (t *Topography) ObstaclesNear(p r2.Vec, radius float64) []Obstacle {
	return t.grid.ObstaclesNear(p, radius)
}

// InBounds reports whether p lies inside the topography bounds.
func (t *Topography) InBounds(p r2.Vec) bool { return BoxContains(t.Bounds, p) }

// AgentsOutOfBounds lists agents outside the bounds; used by the invariant
// diagnostics.
func (t *Topography) AgentsOutOfBounds() []*Agent {
	var out []*Agent
	for _, a := range t.Agents() {
		if !t.InBounds(a.Position) {
			out = append(out, a)
		}
	}
	return out
}

// Free reports whether a body of the given radius placed at p would overlap
// neither an obstacle nor another agent.
func (t *Topography) Free(p r2.Vec, radius float64) bool {
	for _, o := range t.ObstaclesNear(p, radius) {
		if ShapeDistance(o.Shape, p) < radius {
			return false
		}
	}
	for _, other := range t.Neighbors(p, radius) {
		if Distance(other.Position, p) < radius+other.Radius {
			return false
		}
	}
	return true
}
