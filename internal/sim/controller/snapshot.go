package controller

import (
	"context"

	"github.com/signalsfoundry/crowd-simulator/core"
	"gonum.org/v1/gonum/spatial/r2"
)

// AgentState is the committed state of one agent at the end of a tick.
type AgentState struct {
	ID       int
	Position r2.Vec
	Velocity r2.Vec
	Radius   float64
	Target   int
	Category core.SelfCategory
	Action   core.Action
}

// Snapshot is the immutable world state after a tick committed. Sinks may
// retain it.
type Snapshot struct {
	RunID     string
	SimTime   float64
	Step      int
	Agents    []AgentState
	Obstacles []core.Obstacle
}

// SnapshotSink consumes per-tick snapshots. A sink that also implements
// io.Closer is closed in POST_LOOP.
type SnapshotSink interface {
	Consume(ctx context.Context, s Snapshot) error
}

// SnapshotSinkFunc adapts a function to SnapshotSink.
type SnapshotSinkFunc func(ctx context.Context, s Snapshot) error

// Consume implements SnapshotSink.
func (f SnapshotSinkFunc) Consume(ctx context.Context, s Snapshot) error { return f(ctx, s) }

func (c *Controller) snapshot(simTime float64, step int) Snapshot {
	agents := c.topo.Agents()
	states := make([]AgentState, 0, len(agents))
	for _, a := range agents {
		target := -1
		if id, ok := a.CurrentTarget(); ok {
			target = id
		}
		states = append(states, AgentState{
			ID:       a.ID,
			Position: a.Position,
			Velocity: a.Velocity,
			Radius:   a.Radius,
			Target:   target,
			Category: a.SelfCategory,
			Action:   a.LastAction,
		})
	}
	return Snapshot{
		RunID:     c.runID,
		SimTime:   simTime,
		Step:      step,
		Agents:    states,
		Obstacles: append([]core.Obstacle(nil), c.topo.Obstacles()...),
	}
}
