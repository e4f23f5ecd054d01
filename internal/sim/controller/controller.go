// Package controller owns the simulation clock and drives the global tick
// loop. It implements the run, pause, single-step and remote-control state
// machine on top of the scenario elements, the psychology layer and the
// per-agent scheduler.
package controller

import (
	"errors"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/observability"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/psychology"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/scenario"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/scheduler"
	"github.com/signalsfoundry/crowd-simulator/timectrl"
	"go.opentelemetry.io/otel/trace"
)

// untilTolerance absorbs float rounding when comparing the clock against a
// single-step target time.
const untilTolerance = 1e-7

var (
	// ErrNotRunning is returned by Pause when the main loop is not running.
	ErrNotRunning = errors.New("simulation is not running")
	// ErrNotPaused is returned by Resume when there is nothing to resume.
	ErrNotPaused = errors.New("simulation is not paused")
	// ErrNotSingleStep is returned by NextSimCommand outside single-step mode.
	ErrNotSingleStep = errors.New("simulation is not in single-step mode")
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("simulation already started")
)

// ThreadState is the lifecycle phase of the simulation goroutine. It only
// moves forward.
type ThreadState int

const (
	StateInit ThreadState = iota
	StatePreLoop
	StateMainLoop
	StatePostLoop
	StateFinished
)

func (s ThreadState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePreLoop:
		return "PRE_LOOP"
	case StateMainLoop:
		return "MAIN_LOOP"
	case StatePostLoop:
		return "POST_LOOP"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// RemoteListener receives the remote-control handshake events. Callbacks run
// on the simulation goroutine and must not block for long.
type RemoteListener interface {
	// SimStep fires once per completed tick in single-step mode.
	SimStep(simTime float64)
	// SimulationEnd fires once in POST_LOOP in single-step mode.
	SimulationEnd(simTime float64)
	// SimulationStoppedEarly fires when the run ends before its run time.
	SimulationStoppedEarly(simTime float64)
}

// UpdateFunc is a passive per-tick callback.
type UpdateFunc func(simTime float64)

// Status is a point-in-time view of the control state, safe to read from any
// goroutine.
type Status struct {
	RunID         string
	State         ThreadState
	SimTime       float64
	Step          int
	Running       bool
	Paused        bool
	SingleStep    bool
	Waiting       bool
	SimulateUntil float64
	Agents        int
}

// Option configures a Controller.
type Option func(*Controller)

// WithElements sets the scenario element controllers.
func WithElements(e *scenario.Elements) Option {
	return func(c *Controller) {
		if e != nil {
			c.elements = e
		}
	}
}

// WithPsychology sets the perception and cognition layer.
func WithPsychology(l *psychology.Layer) Option {
	return func(c *Controller) {
		if l != nil {
			c.psych = l
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches the simulation metrics collector.
func WithMetrics(m *observability.SimCollector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer overrides the tracer used for run and tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithSingleStep starts the run in single-step (remote-control) mode.
func WithSingleStep(enabled bool) Option {
	return func(c *Controller) { c.singleStep = enabled }
}

// WithRealTimeFactor throttles ticks to stepLength/factor of wall time.
func WithRealTimeFactor(factor float64) Option {
	return func(c *Controller) { c.pacer = timectrl.NewPacer(factor) }
}

// WithFinishWhenEmpty ends the run once every source is exhausted and no
// agent is left.
func WithFinishWhenEmpty(enabled bool) Option {
	return func(c *Controller) { c.finishWhenEmpty = enabled }
}

// WithInvariantChecks logs agents found outside the topography bounds after
// every tick.
func WithInvariantChecks(enabled bool) Option {
	return func(c *Controller) { c.checkInvariants = enabled }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.runID = id
		}
	}
}

// Controller runs one simulation. All stepping happens on the goroutine that
// calls Run; the control methods may be called from any goroutine and only
// touch the flags guarded by mu.
type Controller struct {
	clock    *timectrl.SimClock
	topo     *core.Topography
	sched    *scheduler.Scheduler
	elements *scenario.Elements
	psych    *psychology.Layer
	pacer    *timectrl.Pacer
	metrics  *observability.SimCollector
	tracer   trace.Tracer
	log      logging.Logger
	runID    string

	finishWhenEmpty bool
	checkInvariants bool

	mu              sync.Mutex
	cond            *sync.Cond
	state           ThreadState
	started         bool
	isRunSimulation bool
	paused          bool
	singleStep      bool
	waiting         bool
	simulateUntil   float64
	stopEarly       bool
	commands        uint64
	agents          int

	listeners []RemoteListener
	pre       []UpdateFunc
	post      []UpdateFunc
	sinks     []SnapshotSink
}

// New builds a controller over clock, topography and scheduler. The
// scheduler must already listen to the topography.
func New(clock *timectrl.SimClock, topo *core.Topography, sched *scheduler.Scheduler, opts ...Option) *Controller {
	c := &Controller{
		clock:    clock,
		topo:     topo,
		sched:    sched,
		elements: &scenario.Elements{Topography: topo},
		psych:    psychology.NewLayer(0),
		pacer:    timectrl.NewPacer(0),
		tracer:   observability.Tracer(),
		log:      logging.Noop(),
		runID:    uuid.NewString(),
	}
	c.cond = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	c.simulateUntil = clock.Now()
	c.agents = topo.AgentCount()
	return c
}

// RunID identifies this run in logs, spans and snapshots.
func (c *Controller) RunID() string { return c.runID }

// Pause suspends the loop at the next tick boundary.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateMainLoop || c.paused || !c.isRunSimulation {
		return ErrNotRunning
	}
	c.paused = true
	c.cond.Broadcast()
	return nil
}

// Resume clears a pause, or leaves single-step mode while the loop waits for
// a step command, and lets the loop run freely.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.paused:
		c.paused = false
	case c.singleStep && c.waiting:
		c.singleStep = false
	default:
		return ErrNotPaused
	}
	c.commands++
	c.cond.Broadcast()
	return nil
}

// NextSimCommand lets a single-step run advance until the clock reaches
// untilSimTime. A negative value advances exactly one tick.
func (c *Controller) NextSimCommand(untilSimTime float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.singleStep || c.state == StateFinished {
		return ErrNotSingleStep
	}
	if untilSimTime < 0 {
		untilSimTime = c.clock.Now() + math.Min(c.clock.StepLength(), c.clock.Remaining())
	}
	c.simulateUntil = untilSimTime
	c.commands++
	c.cond.Broadcast()
	return nil
}

// IsRunning reports whether the main loop is stepping and not paused.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateMainLoop && !c.paused && c.isRunSimulation
}

// StopEarly asks the loop to end at the next tick boundary.
func (c *Controller) StopEarly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopEarly = true
	c.commands++
	c.cond.Broadcast()
}

// AddStimulusInfo queues info for the next psychology phase.
func (c *Controller) AddStimulusInfo(info psychology.StimulusInfo) {
	c.psych.Queue.Add(info)
}

// AddRemoteListener registers l for handshake events.
func (c *Controller) AddRemoteListener(l RemoteListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// AddPreUpdate registers fn to run at the start of every tick.
func (c *Controller) AddPreUpdate(fn UpdateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pre = append(c.pre, fn)
}

// AddPostUpdate registers fn to run after the agents of a tick stepped.
func (c *Controller) AddPostUpdate(fn UpdateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.post = append(c.post, fn)
}

// AddSnapshotSink registers s to receive a snapshot after every tick.
func (c *Controller) AddSnapshotSink(s SnapshotSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, s)
}

// ThreadState returns the current lifecycle phase.
func (c *Controller) ThreadState() ThreadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SimTime returns the current simulated time.
func (c *Controller) SimTime() float64 { return c.clock.Now() }

// Step returns the number of completed clock advances.
func (c *Controller) Step() int { return c.clock.Step() }

// Status returns a consistent view of the control flags.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		RunID:         c.runID,
		State:         c.state,
		SimTime:       c.clock.Now(),
		Step:          c.clock.Step(),
		Running:       c.state == StateMainLoop && !c.paused && c.isRunSimulation,
		Paused:        c.paused,
		SingleStep:    c.singleStep,
		Waiting:       c.waiting,
		SimulateUntil: c.simulateUntil,
		Agents:        c.agents,
	}
}

func (c *Controller) setState(s ThreadState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.cond.Broadcast()
}

func (c *Controller) remoteListeners() []RemoteListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RemoteListener(nil), c.listeners...)
}

func (c *Controller) callbacks() (pre, post []UpdateFunc, sinks []SnapshotSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]UpdateFunc(nil), c.pre...),
		append([]UpdateFunc(nil), c.post...),
		append([]SnapshotSink(nil), c.sinks...)
}
