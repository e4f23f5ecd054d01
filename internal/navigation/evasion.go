package navigation

import (
	"math"

	"github.com/signalsfoundry/crowd-simulator/core"
	"gonum.org/v1/gonum/spatial/r2"
)

// Evasion moves threatened agents away from the threat origin, blended with
// their target direction, and otherwise avoids collisions like Proximity.
type Evasion struct {
	env       Environment
	cfg       Config
	proximity *Proximity
}

// NewEvasion returns the escape strategy.
func NewEvasion(env Environment, cfg Config, proximity *Proximity) *Evasion {
	return &Evasion{env: env, cfg: cfg, proximity: proximity}
}

// NavigationPosition implements Strategy.
func (e *Evasion) NavigationPosition(a *core.Agent) (Decision, error) {
	if a.ThreatOrigin == nil {
		return e.proximity.NavigationPosition(a)
	}
	away, ok := core.Unit(r2.Sub(a.Position, *a.ThreatOrigin))
	if !ok {
		// Standing on the origin gives no escape direction.
		return e.proximity.NavigationPosition(a)
	}

	dir := away
	if target, _, hasTarget := e.env.Direction.Direction(a); hasTarget {
		w := math.Max(0, math.Min(1, e.cfg.EscapeWeight))
		if blended, ok := core.Unit(r2.Add(r2.Scale(w, away), r2.Scale(1-w, target))); ok {
			dir = blended
		}
	}
	return e.proximity.walk(a, dir, a.StepLength, core.ActionEscape), nil
}
