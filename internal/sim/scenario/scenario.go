// Package scenario holds the scenario element controllers that run once per
// tick outside the agent scheduler: sources spawn agents, targets hold or
// absorb them, target changers and absorbing areas redirect or remove them,
// and a teleporter wraps them around a periodic boundary.
package scenario

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"gonum.org/v1/gonum/spatial/r2"
)

// spawnAttempts bounds the rejection sampling for a free spawn position.
const spawnAttempts = 50

// SourceConfig describes where, when and how many agents a source creates.
// Interval <= 0 spawns a single batch at StartTime. EndTime <= 0 and
// MaxSpawn <= 0 mean unbounded.
type SourceConfig struct {
	ID          int
	Shape       core.Shape
	StartTime   float64
	EndTime     float64
	Interval    float64
	SpawnNumber int
	MaxSpawn    int
	Targets     []int
	Attributes  core.AgentAttributes
}

// Source spawns agents into the topography.
type Source struct {
	cfg  SourceConfig
	topo *core.Topography
	rnd  *rand.Rand
	log  logging.Logger

	nextSpawn float64
	spawned   int
	exhausted bool
}

// NewSource builds a source drawing positions and agent attributes from rnd.
func NewSource(cfg SourceConfig, topo *core.Topography, rnd *rand.Rand, log logging.Logger) *Source {
	if log == nil {
		log = logging.Noop()
	}
	return &Source{
		cfg:       cfg,
		topo:      topo,
		rnd:       rnd,
		log:       log.With(logging.Component("source"), logging.Int("source_id", cfg.ID)),
		nextSpawn: cfg.StartTime,
	}
}

// Exhausted reports whether the source will not spawn again.
func (s *Source) Exhausted() bool { return s.exhausted }

// Spawned returns the number of agents created so far.
func (s *Source) Spawned() int { return s.spawned }

// Update spawns every batch due at or before simTime.
func (s *Source) Update(ctx context.Context, simTime float64) error {
	for !s.exhausted && s.nextSpawn <= simTime {
		if err := s.spawnBatch(ctx, simTime); err != nil {
			return err
		}
		if s.cfg.Interval <= 0 {
			s.exhausted = true
			break
		}
		s.nextSpawn += s.cfg.Interval
		if s.cfg.EndTime > 0 && s.nextSpawn > s.cfg.EndTime {
			s.exhausted = true
		}
	}
	return nil
}

func (s *Source) spawnBatch(ctx context.Context, simTime float64) error {
	n := max(s.cfg.SpawnNumber, 1)
	for i := 0; i < n; i++ {
		if s.cfg.MaxSpawn > 0 && s.spawned >= s.cfg.MaxSpawn {
			s.exhausted = true
			return nil
		}
		pos, ok := s.freePosition()
		if !ok {
			s.log.Debug(ctx, "no free spawn position", logging.SimTime(simTime))
			continue
		}
		a := core.NewAgent(s.topo.NextAgentID(), pos, s.cfg.Attributes, s.rnd)
		a.SetTargets(s.cfg.Targets)
		a.TimeOfNextStep = simTime
		if err := s.topo.AddAgent(a); err != nil {
			return fmt.Errorf("source %d: %w", s.cfg.ID, err)
		}
		s.spawned++
	}
	if s.cfg.MaxSpawn > 0 && s.spawned >= s.cfg.MaxSpawn {
		s.exhausted = true
	}
	return nil
}

func (s *Source) freePosition() (r2.Vec, bool) {
	b := s.cfg.Shape.Bounds()
	for i := 0; i < spawnAttempts; i++ {
		p := r2.Vec{
			X: b.Min.X + s.rnd.Float64()*(b.Max.X-b.Min.X),
			Y: b.Min.Y + s.rnd.Float64()*(b.Max.Y-b.Min.Y),
		}
		if s.cfg.Shape.Contains(p) && s.topo.Free(p, s.cfg.Attributes.Radius) {
			return p, true
		}
	}
	return r2.Vec{}, false
}

// TargetController handles agents standing inside their current target:
// absorbing targets remove them, other targets hold them for WaitingTime
// and then send them on to their next target.
type TargetController struct {
	topo *core.Topography
}

// NewTargetController returns a controller over topo's targets.
func NewTargetController(topo *core.Topography) *TargetController {
	return &TargetController{topo: topo}
}

// Update implements the per-tick target handling.
func (c *TargetController) Update(_ context.Context, simTime float64) error {
	// Agents returns a shared slice; removal invalidates it.
	agents := append([]*core.Agent(nil), c.topo.Agents()...)
	for _, a := range agents {
		target, ok := c.topo.CurrentTarget(a)
		if !ok || !target.Shape.Contains(a.Position) {
			continue
		}
		if target.Absorbing {
			if err := c.topo.RemoveAgent(a); err != nil {
				return err
			}
			continue
		}
		if !a.Waiting {
			a.Waiting = true
			a.WaitUntil = simTime + target.WaitingTime
		}
		if simTime >= a.WaitUntil {
			a.Waiting = false
			if a.HasNextTarget() {
				a.AdvanceTarget()
			}
		}
	}
	return nil
}

// TargetChanger redirects agents entering its area to NextTargets with the
// given probability. Every agent is considered once per visit.
type TargetChanger struct {
	Shape       core.Shape
	NextTargets []int
	Probability float64

	topo   *core.Topography
	rnd    *rand.Rand
	inside map[int]struct{}
}

// NewTargetChanger builds a target changer.
func NewTargetChanger(shape core.Shape, next []int, probability float64, topo *core.Topography, rnd *rand.Rand) *TargetChanger {
	return &TargetChanger{
		Shape:       shape,
		NextTargets: next,
		Probability: probability,
		topo:        topo,
		rnd:         rnd,
		inside:      make(map[int]struct{}),
	}
}

// Update implements the per-tick redirection.
func (c *TargetChanger) Update(_ context.Context, _ float64) error {
	present := make(map[int]struct{})
	for _, a := range c.topo.Agents() {
		if !c.Shape.Contains(a.Position) {
			continue
		}
		present[a.ID] = struct{}{}
		if _, seen := c.inside[a.ID]; seen {
			continue
		}
		if c.Probability >= 1 || c.rnd.Float64() < c.Probability {
			a.SetTargets(c.NextTargets)
		}
	}
	c.inside = present
	return nil
}

// AbsorbingArea removes every agent inside its shape.
type AbsorbingArea struct {
	Shape core.Shape
	topo  *core.Topography
}

// NewAbsorbingArea builds an absorbing area.
func NewAbsorbingArea(shape core.Shape, topo *core.Topography) *AbsorbingArea {
	return &AbsorbingArea{Shape: shape, topo: topo}
}

// Update implements the per-tick removal.
func (c *AbsorbingArea) Update(_ context.Context, _ float64) error {
	agents := append([]*core.Agent(nil), c.topo.Agents()...)
	for _, a := range agents {
		if c.Shape.Contains(a.Position) {
			if err := c.topo.RemoveAgent(a); err != nil {
				return err
			}
		}
	}
	return nil
}

// Teleporter shifts agents that crossed Position by Shift, per axis, which
// turns a corridor into a periodic one. A zero Shift component disables that
// axis.
type Teleporter struct {
	Position r2.Vec
	Shift    r2.Vec
	topo     *core.Topography
}

// NewTeleporter builds a teleporter.
func NewTeleporter(position, shift r2.Vec, topo *core.Topography) *Teleporter {
	return &Teleporter{Position: position, Shift: shift, topo: topo}
}

// Update implements the per-tick wrap.
func (t *Teleporter) Update(_ context.Context, _ float64) (int, error) {
	moved := 0
	for _, a := range t.topo.Agents() {
		p := a.Position
		if t.Shift.X != 0 && p.X > t.Position.X {
			p.X += t.Shift.X
		}
		if t.Shift.Y != 0 && p.Y > t.Position.Y {
			p.Y += t.Shift.Y
		}
		if p != a.Position {
			t.topo.Relocate(a, p)
			moved++
		}
	}
	return moved, nil
}

// ReconsiderOldTarget sends stuck agents back to the target they reached
// last. An agent qualifies once it has not moved for StuckTicks consecutive
// steps while its position lies within ThresholdX and ThresholdY of that
// target's centroid.
type ReconsiderOldTarget struct {
	StuckTicks int
	ThresholdX float64
	ThresholdY float64
	topo       *core.Topography
}

// NewReconsiderOldTarget builds the policy.
func NewReconsiderOldTarget(stuckTicks int, thresholdX, thresholdY float64, topo *core.Topography) *ReconsiderOldTarget {
	return &ReconsiderOldTarget{StuckTicks: stuckTicks, ThresholdX: thresholdX, ThresholdY: thresholdY, topo: topo}
}

// Update implements the per-tick policy and returns the number of reverted
// agents.
func (r *ReconsiderOldTarget) Update(_ context.Context, _ float64) (int, error) {
	reverted := 0
	for _, a := range r.topo.Agents() {
		if a.PreviousTarget < 0 || a.RemainCounter < r.StuckTicks {
			continue
		}
		prev, err := r.topo.Target(a.PreviousTarget)
		if err != nil {
			continue
		}
		c := prev.Shape.Centroid()
		if math.Abs(a.Position.X-c.X) <= r.ThresholdX && math.Abs(a.Position.Y-c.Y) <= r.ThresholdY {
			if a.RevertTarget() {
				a.RemainCounter = 0
				reverted++
			}
		}
	}
	return reverted, nil
}
