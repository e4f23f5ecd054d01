// Package navigation implements the heuristic locomotion layer: given an
// agent and read-only access to its surroundings, a Strategy proposes the
// position the agent should occupy after its next footstep.
//
// Strategies never mutate the agent. The scheduler commits the returned
// Decision, so evaluating a strategy twice against the same world state
// returns the same Decision.
package navigation

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/rng"
	"gonum.org/v1/gonum/spatial/r2"
)

// ErrUnsupportedSelfCategory is returned when an agent carries a
// self-category no navigation strategy handles. It aborts the run.
var ErrUnsupportedSelfCategory = errors.New("unsupported self category")

// SpatialIndex answers neighbourhood queries. Results may over-approximate.
type SpatialIndex interface {
	Neighbors(center r2.Vec, radius float64) []*core.Agent
	ObstaclesNear(p r2.Vec, radius float64) []core.Obstacle
}

// TargetDirection stands in for the floor field: it returns the unit walking
// direction toward the agent's current target and the remaining distance.
// ok is false when the agent has no target or already stands inside it.
type TargetDirection interface {
	Direction(a *core.Agent) (dir r2.Vec, dist float64, ok bool)
}

// Decision is a proposed footstep.
type Decision struct {
	Position r2.Vec
	Action   core.Action
}

func hold(a *core.Agent, action core.Action) Decision {
	return Decision{Position: a.Position, Action: action}
}

// Strategy computes one candidate step for an agent.
type Strategy interface {
	NavigationPosition(a *core.Agent) (Decision, error)
}

// Config tunes collision detection and evasion. Angles are in radians.
type Config struct {
	// SafetyMargin is added to the sum of radii in pedestrian collision tests.
	SafetyMargin float64
	// ContraFlowFilter ignores neighbours walking within ContraFlowAngle of
	// the agent's own direction.
	ContraFlowFilter bool
	ContraFlowAngle  float64
	// BackwardsAngle ignores neighbours located further than this angle from
	// the walking direction.
	BackwardsAngle float64

	TangentialEvasion bool
	SidewaysEvasion   bool
	// DetourThreshold is the difference in detour length below which the two
	// tangent candidates count as equivalent and one is drawn at random.
	DetourThreshold float64

	PlannedStepsAhead           int
	FollowerDistance            float64
	FollowerAngleMovement       float64
	FollowerAngleToTarget       float64
	FollowerProximityNavigation bool

	// EscapeWeight blends the away-from-threat direction (1) with the target
	// direction (0) for evading agents.
	EscapeWeight float64
}

// DefaultConfig returns the parameters used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		SafetyMargin:                0.1,
		ContraFlowFilter:            true,
		ContraFlowAngle:             math.Pi / 4,
		BackwardsAngle:              math.Pi / 2,
		TangentialEvasion:           true,
		SidewaysEvasion:             true,
		DetourThreshold:             0.05,
		PlannedStepsAhead:           5,
		FollowerDistance:            2,
		FollowerAngleMovement:       math.Pi / 6,
		FollowerAngleToTarget:       math.Pi / 4,
		FollowerProximityNavigation: true,
		EscapeWeight:                0.8,
	}
}

// Environment bundles the read-only collaborators every strategy consults.
type Environment struct {
	Index     SpatialIndex
	Direction TargetDirection
	// Rand derives the per-decision generator for detour tie-breaks. A nil
	// Rand always picks the first candidate.
	Rand   *rng.Source
	Logger logging.Logger
}

func (e Environment) logger() logging.Logger {
	if e.Logger == nil {
		return logging.Noop()
	}
	return e.Logger
}

// Dispatcher routes an agent to the strategy matching its self-category.
type Dispatcher struct {
	proximity *Proximity
	follower  *Follower
	evasion   *Evasion
}

// NewDispatcher builds the closed strategy set over env.
func NewDispatcher(env Environment, cfg Config) *Dispatcher {
	p := NewProximity(env, cfg)
	return &Dispatcher{
		proximity: p,
		follower:  NewFollower(env, cfg, p),
		evasion:   NewEvasion(env, cfg, p),
	}
}

// Strategy returns the target-oriented strategy for kind.
func (d *Dispatcher) Strategy(kind core.NavigationKind) Strategy {
	if kind == core.NavigationFollower {
		return d.follower
	}
	return d.proximity
}

// Decide evaluates the strategy for a's current self-category.
func (d *Dispatcher) Decide(a *core.Agent) (Decision, error) {
	switch a.SelfCategory {
	case core.CategoryTargetOriented, core.CategoryCooperative:
		return d.Strategy(a.Navigation).NavigationPosition(a)
	case core.CategoryWait:
		return hold(a, core.ActionWait), nil
	case core.CategoryEvade:
		return d.evasion.NavigationPosition(a)
	default:
		return Decision{}, fmt.Errorf("%w: %s (agent %d)", ErrUnsupportedSelfCategory, a.SelfCategory, a.ID)
	}
}
