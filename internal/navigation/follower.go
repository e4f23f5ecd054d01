package navigation

import (
	"math"
	"sort"

	"github.com/signalsfoundry/crowd-simulator/core"
	"gonum.org/v1/gonum/spatial/r2"
)

// Follower walks like Proximity until a projection several steps ahead shows
// an oncoming pedestrian. It then falls in behind the closest neighbour that
// walks the same way and stands between the agent and its target.
type Follower struct {
	env       Environment
	cfg       Config
	proximity *Proximity
}

// NewFollower returns a follower strategy falling back to proximity.
func NewFollower(env Environment, cfg Config, proximity *Proximity) *Follower {
	return &Follower{env: env, cfg: cfg, proximity: proximity}
}

// NavigationPosition implements Strategy.
func (f *Follower) NavigationPosition(a *core.Agent) (Decision, error) {
	dir, _, ok := f.env.Direction.Direction(a)
	if !ok {
		return hold(a, core.ActionWait), nil
	}
	if !f.oncomingAhead(a, dir) {
		return f.proximity.NavigationPosition(a)
	}

	leader, ok := f.leader(a, dir)
	if !ok {
		return f.proximity.NavigationPosition(a)
	}

	gap := core.Distance(a.Position, leader.Position) - a.Radius - leader.Radius - f.cfg.SafetyMargin
	length := math.Min(a.StepLength, math.Max(gap, 0))
	next, moved := core.StepToward(a.Position, leader.Position, length)
	if moved && length > core.Epsilon && !collides(f.env, f.cfg, a, next, r2.Sub(leader.Position, a.Position)) {
		return Decision{Position: next, Action: core.ActionFollowLeader}, nil
	}
	if f.cfg.FollowerProximityNavigation {
		return f.proximity.NavigationPosition(a)
	}
	return hold(a, core.ActionHold), nil
}

// oncomingAhead projects the agent PlannedStepsAhead steps along dir and
// reports whether a pedestrian walking against that direction blocks the
// projected path, either now or at its own projected position.
func (f *Follower) oncomingAhead(a *core.Agent, dir r2.Vec) bool {
	steps := float64(max(f.cfg.PlannedStepsAhead, 1))
	horizon := steps * a.StepLength
	ahead := r2.Add(a.Position, r2.Scale(horizon, dir))
	lookahead := steps * a.DurationNextStep

	for _, other := range f.env.Index.Neighbors(a.Position, 2*horizon+a.Radius+f.cfg.SafetyMargin) {
		if other.ID == a.ID || r2.Dot(other.Velocity, dir) >= 0 {
			continue
		}
		r := a.Radius + other.Radius + f.cfg.SafetyMargin
		future := r2.Add(other.Position, r2.Scale(lookahead, other.Velocity))
		if core.PointSegmentDistance(other.Position, a.Position, ahead) < r ||
			core.PointSegmentDistance(future, a.Position, ahead) < r {
			return true
		}
	}
	return false
}

// leader picks the closest neighbour within FollowerDistance that walks
// within FollowerAngleMovement of dir and lies within FollowerAngleToTarget
// of dir as seen from the agent. Ties go to the lower id.
func (f *Follower) leader(a *core.Agent, dir r2.Vec) (*core.Agent, bool) {
	candidates := f.env.Index.Neighbors(a.Position, f.cfg.FollowerDistance)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	var (
		best     *core.Agent
		bestDist = math.Inf(1)
	)
	for _, other := range candidates {
		if other.ID == a.ID {
			continue
		}
		heading, moving := other.Heading()
		if !moving || core.AngleBetween(heading, dir) > f.cfg.FollowerAngleMovement {
			continue
		}
		rel := r2.Sub(other.Position, a.Position)
		if core.AngleBetween(rel, dir) > f.cfg.FollowerAngleToTarget {
			continue
		}
		if d := r2.Norm(rel); d <= f.cfg.FollowerDistance && d < bestDist {
			best, bestDist = other, d
		}
	}
	return best, best != nil
}
