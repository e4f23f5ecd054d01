// Package scheduler steps agents in the order their next footstep falls due.
//
// The controller advances simulated time in uniform ticks; within a tick every
// agent whose TimeOfNextStep lies before the tick's time is popped, navigated
// and committed, possibly several times for fast walkers. This lets agents
// with different speeds keep their own cadence.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/navigation"
	"gonum.org/v1/gonum/spatial/r2"
)

// Navigator decides an agent's next position.
type Navigator interface {
	Decide(a *core.Agent) (navigation.Decision, error)
}

// World is the part of the topography the scheduler updates.
type World interface {
	Moved(a *core.Agent, from r2.Vec)
	CurrentTarget(a *core.Agent) (*core.Target, bool)
	RemoveAgent(a *core.Agent) error
}

// Recorder observes committed steps.
type Recorder interface {
	ObserveStep(action core.Action)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder attaches a step recorder, typically the metrics collector.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithLogger sets the logger used for degenerate decisions.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// Scheduler is the per-agent event queue. It implements core.AgentListener
// so that agents added to or removed from the topography are queued or
// dropped automatically.
//
// A Scheduler is driven by the simulation goroutine only.
type Scheduler struct {
	queue    agentQueue
	nav      Navigator
	world    World
	recorder Recorder
	log      logging.Logger
}

// New builds a scheduler committing steps into world.
func New(world World, nav Navigator, opts ...Option) *Scheduler {
	s := &Scheduler{
		nav:   nav,
		world: world,
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of queued agents.
func (s *Scheduler) Len() int { return s.queue.Len() }

// Add enqueues a. Agents already queued are left in place.
func (s *Scheduler) Add(a *core.Agent) {
	if a.Queued() {
		return
	}
	heap.Push(&s.queue, a)
}

// Remove drops a from the queue and reports whether it was queued.
func (s *Scheduler) Remove(a *core.Agent) bool {
	i := a.QueueIndex()
	if i < 0 || i >= len(s.queue) || s.queue[i] != a {
		return false
	}
	heap.Remove(&s.queue, i)
	return true
}

// Reschedule restores heap order after a's TimeOfNextStep changed outside
// the scheduler.
func (s *Scheduler) Reschedule(a *core.Agent) {
	if i := a.QueueIndex(); i >= 0 && i < len(s.queue) && s.queue[i] == a {
		heap.Fix(&s.queue, i)
	}
}

// Peek returns the agent due next without removing it.
func (s *Scheduler) Peek() (*core.Agent, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	return s.queue[0], true
}

// Pop removes and returns the agent due next.
func (s *Scheduler) Pop() (*core.Agent, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	return heap.Pop(&s.queue).(*core.Agent), true
}

// AgentAdded implements core.AgentListener.
func (s *Scheduler) AgentAdded(a *core.Agent) { s.Add(a) }

// AgentRemoved implements core.AgentListener.
func (s *Scheduler) AgentRemoved(a *core.Agent) { s.Remove(a) }

// Drain steps every agent whose TimeOfNextStep is before simTime. Each
// popped agent is navigated, committed and re-queued with its next step
// time, unless it now stands inside an absorbing target, in which case it is
// removed from the world. A navigation error stops the drain and is returned;
// the failing agent stays queued.
func (s *Scheduler) Drain(ctx context.Context, simTime float64) (int, error) {
	steps := 0
	for len(s.queue) > 0 && s.queue[0].TimeOfNextStep < simTime {
		a := heap.Pop(&s.queue).(*core.Agent)

		d, err := s.nav.Decide(a)
		if err != nil {
			heap.Push(&s.queue, a)
			return steps, fmt.Errorf("navigate agent %d: %w", a.ID, err)
		}
		if !core.IsFinite(d.Position) {
			s.log.Warn(ctx, "non-finite navigation position, holding",
				logging.AgentID(a.ID),
				logging.String("action", d.Action.String()),
			)
			d = navigation.Decision{Position: a.Position, Action: core.ActionHold}
		}

		from := a.Position
		a.Commit(d.Position, d.Action)
		s.world.Moved(a, from)
		steps++
		if s.recorder != nil {
			s.recorder.ObserveStep(d.Action)
		}

		if s.absorbed(a) {
			if err := s.world.RemoveAgent(a); err != nil {
				return steps, fmt.Errorf("absorb agent %d: %w", a.ID, err)
			}
			continue
		}
		heap.Push(&s.queue, a)
	}
	return steps, nil
}

func (s *Scheduler) absorbed(a *core.Agent) bool {
	target, ok := s.world.CurrentTarget(a)
	return ok && target.Absorbing && target.Shape.Contains(a.Position)
}
