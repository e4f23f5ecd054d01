package navigation

import (
	"context"
	"math"
	"math/rand"

	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"gonum.org/v1/gonum/spatial/r2"
)

// Proximity walks straight toward the target and evades pedestrians and
// obstacles on the path by tangential or sideways detours, holding position
// when every option collides.
type Proximity struct {
	env Environment
	cfg Config
}

// NewProximity returns the default target-oriented strategy.
func NewProximity(env Environment, cfg Config) *Proximity {
	return &Proximity{env: env, cfg: cfg}
}

// NavigationPosition implements Strategy.
func (p *Proximity) NavigationPosition(a *core.Agent) (Decision, error) {
	dir, dist, ok := p.env.Direction.Direction(a)
	if !ok {
		return hold(a, core.ActionWait), nil
	}
	// Overshoot into the target area by up to one radius so that the agent
	// ends up inside it rather than on its boundary.
	length := math.Min(a.StepLength, dist+a.Radius)
	return p.walk(a, dir, length, core.ActionDirectStep), nil
}

// walk proposes a step of the given length along dir, replacing it with a
// detour when the straight step collides.
func (p *Proximity) walk(a *core.Agent, dir r2.Vec, length float64, direct core.Action) Decision {
	next := r2.Add(a.Position, r2.Scale(length, dir))
	hit, blocked := firstCollision(p.env, p.cfg, a, next, dir)
	if !blocked {
		return Decision{Position: next, Action: direct}
	}

	var rnd *rand.Rand
	if p.env.Rand != nil {
		rnd = p.env.Rand.Decision(a.ID, a.Steps)
	}

	if p.cfg.TangentialEvasion {
		if cand, ok := p.tangentialCandidate(a, hit, next, length, rnd); ok &&
			!collides(p.env, p.cfg, a, cand, r2.Sub(cand, a.Position)) {
			return Decision{Position: cand, Action: core.ActionTangentialEvasion}
		}
	}

	if p.cfg.SidewaysEvasion {
		if cand, ok := p.sidewaysCandidate(a, dir, next, length, rnd); ok {
			return Decision{Position: cand, Action: core.ActionSidewaysEvasion}
		}
	}

	return hold(a, core.ActionHold)
}

// tangentialCandidate builds the two one-step moves along the tangents from
// the agent to the obstruction's exclusion circle and picks the smaller
// detour.
func (p *Proximity) tangentialCandidate(a *core.Agent, hit collision, target r2.Vec, length float64, rnd *rand.Rand) (r2.Vec, bool) {
	rel := r2.Sub(a.Position, hit.center)
	t1, t2, err := core.TangentPoints(rel, hit.radius)
	if err != nil {
		fields := []logging.Field{
			logging.AgentID(a.ID),
			logging.Float64("offset_x", rel.X),
			logging.Float64("offset_y", rel.Y),
			logging.Float64("radius", hit.radius),
			logging.Err(err),
		}
		if hit.agent != nil {
			fields = append(fields, logging.Int("neighbor_id", hit.agent.ID))
		}
		p.env.logger().Warn(context.Background(), "tangent evasion degenerate", fields...)
		return r2.Vec{}, false
	}

	first, ok1 := core.StepToward(a.Position, r2.Add(hit.center, t1), length)
	second, ok2 := core.StepToward(a.Position, r2.Add(hit.center, t2), length)
	if !ok1 || !ok2 || !core.IsFinite(first) || !core.IsFinite(second) {
		return r2.Vec{}, false
	}
	c := core.DetourCandidate{First: first, Second: second}
	return core.SelectDetour(c, target, p.cfg.DetourThreshold, rnd), true
}

// sidewaysCandidate tries the two steps perpendicular to the walking
// direction, preferred side first, and returns the first collision-free one.
func (p *Proximity) sidewaysCandidate(a *core.Agent, dir, target r2.Vec, length float64, rnd *rand.Rand) (r2.Vec, bool) {
	left, right := core.Perpendiculars(dir)
	c := core.DetourCandidate{
		First:  r2.Add(a.Position, r2.Scale(length, left)),
		Second: r2.Add(a.Position, r2.Scale(length, right)),
	}
	preferred := core.SelectDetour(c, target, p.cfg.DetourThreshold, rnd)
	other := c.Second
	if preferred == c.Second {
		other = c.First
	}
	for _, cand := range []r2.Vec{preferred, other} {
		if !collides(p.env, p.cfg, a, cand, r2.Sub(cand, a.Position)) {
			return cand, true
		}
	}
	return r2.Vec{}, false
}
