package navigation

import (
	"math"
	"sort"

	"github.com/signalsfoundry/crowd-simulator/core"
	"gonum.org/v1/gonum/spatial/r2"
)

// pathTolerance absorbs rounding on paths that graze an exclusion circle, as
// tangential detours do by construction.
const pathTolerance = 1e-6

// collision describes the first obstruction found on a path.
type collision struct {
	agent    *core.Agent
	obstacle *core.Obstacle
	// center and radius describe the exclusion circle around the obstruction
	// as seen by the moving agent.
	center r2.Vec
	radius float64
}

// pedestrianOnPath returns the closest relevant neighbour whose exclusion
// circle (sum of radii plus margin) is entered by the move from a.Position to
// next. Neighbours behind the agent are skipped; with the contra-flow filter
// on, so are neighbours walking the same way.
func pedestrianOnPath(env Environment, cfg Config, a *core.Agent, next r2.Vec, walkDir r2.Vec) (collision, bool) {
	reach := core.Distance(a.Position, next) + a.Radius + cfg.SafetyMargin
	candidates := env.Index.Neighbors(a.Position, reach)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	var (
		best     collision
		bestDist = math.Inf(1)
	)
	for _, other := range candidates {
		if other == a || other.ID == a.ID {
			continue
		}
		rel := r2.Sub(other.Position, a.Position)
		if r2.Norm(rel) > core.Epsilon && core.AngleBetween(rel, walkDir) > cfg.BackwardsAngle {
			continue
		}
		if cfg.ContraFlowFilter {
			if heading, ok := other.Heading(); ok && core.AngleBetween(heading, walkDir) < cfg.ContraFlowAngle {
				continue
			}
		}

		r := a.Radius + other.Radius + cfg.SafetyMargin
		if !entersCircle(a.Position, next, other.Position, r) {
			continue
		}
		if d := core.Distance(a.Position, other.Position); d < bestDist {
			bestDist = d
			best = collision{agent: other, center: other.Position, radius: r}
		}
	}
	return best, bestDist < math.Inf(1)
}

// entersCircle reports whether the segment from -> to comes closer than r to
// center. An agent already inside the circle only collides when the move
// brings it closer still.
func entersCircle(from, to, center r2.Vec, r float64) bool {
	closest := core.PointSegmentDistance(center, from, to)
	if closest >= r-pathTolerance {
		return false
	}
	return closest < core.Distance(from, center)-pathTolerance
}

// obstacleOnPath returns the closest obstacle the agent's body would touch
// while moving to next.
func obstacleOnPath(env Environment, a *core.Agent, next r2.Vec) (collision, bool) {
	reach := core.Distance(a.Position, next) + a.Radius
	var (
		best     collision
		bestDist = math.Inf(1)
	)
	for _, o := range env.Index.ObstaclesNear(a.Position, reach) {
		o := o
		if !core.SegmentIntersectsShape(o.Shape, a.Position, next, a.Radius-pathTolerance) {
			continue
		}
		// Moving away from an obstacle the agent already touches is allowed.
		if core.ShapeDistance(o.Shape, next) >= core.ShapeDistance(o.Shape, a.Position) &&
			core.ShapeDistance(o.Shape, a.Position) < a.Radius {
			continue
		}
		cp := o.Shape.ClosestPoint(a.Position)
		if d := core.Distance(a.Position, cp); d < bestDist {
			bestDist = d
			best = collision{obstacle: &o, center: cp, radius: a.Radius}
		}
	}
	return best, bestDist < math.Inf(1)
}

// firstCollision checks pedestrians before obstacles.
func firstCollision(env Environment, cfg Config, a *core.Agent, next, walkDir r2.Vec) (collision, bool) {
	if c, ok := pedestrianOnPath(env, cfg, a, next, walkDir); ok {
		return c, true
	}
	return obstacleOnPath(env, a, next)
}

func collides(env Environment, cfg Config, a *core.Agent, next, walkDir r2.Vec) bool {
	_, hit := firstCollision(env, cfg, a, next, walkDir)
	return hit
}
