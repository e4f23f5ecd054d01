package navigation

import (
	"github.com/signalsfoundry/crowd-simulator/core"
	"gonum.org/v1/gonum/spatial/r2"
)

// TargetLookup resolves an agent's current target area.
type TargetLookup interface {
	CurrentTarget(a *core.Agent) (*core.Target, bool)
}

// EuclideanDirection points agents straight at the closest point of their
// current target, ignoring obstacles. It is the default TargetDirection when
// no floor field is available.
type EuclideanDirection struct {
	Targets TargetLookup
}

// Direction implements TargetDirection.
func (e EuclideanDirection) Direction(a *core.Agent) (r2.Vec, float64, bool) {
	target, ok := e.Targets.CurrentTarget(a)
	if !ok || target.Shape.Contains(a.Position) {
		return r2.Vec{}, 0, false
	}
	goal := target.Shape.ClosestPoint(a.Position)
	dir, ok := core.Unit(r2.Sub(goal, a.Position))
	if !ok {
		return r2.Vec{}, 0, false
	}
	return dir, core.Distance(a.Position, goal), true
}
