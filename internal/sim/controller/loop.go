package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/observability"
)

// Run executes the simulation on the calling goroutine until the run time
// elapses, StopEarly is called, a tick fails or ctx is cancelled. POST_LOOP
// runs in every case, including a panic inside a tick, which is returned as
// an error. Cancellation is observed at tick boundaries and returned as
// ctx.Err().
func (c *Controller) Run(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.isRunSimulation = true
	c.mu.Unlock()

	ctx, span := observability.StartRunSpan(ctx, c.tracer, observability.RunInfo{
		RunID:      c.runID,
		StartTime:  c.clock.StartTime(),
		StepLength: c.clock.StepLength(),
		RunTime:    c.clock.RunTime(),
	})
	defer span.End()
	log := c.log.With(logging.String("run_id", c.runID))

	stop := context.AfterFunc(ctx, c.wake)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simulation panicked: %v", r)
		}
		c.postLoop(ctx, log, err)
		observability.RecordRunError(span, err)
	}()

	c.setState(StatePreLoop)
	log.Info(ctx, "simulation starting",
		logging.SimTime(c.clock.Now()),
		logging.Float64("step_length", c.clock.StepLength()),
		logging.Float64("run_time", c.clock.RunTime()),
		logging.Int("agents", c.topo.AgentCount()),
		logging.Bool("single_step", c.Status().SingleStep),
	)
	c.setState(StateMainLoop)
	return c.mainLoop(ctx, log)
}

func (c *Controller) mainLoop(ctx context.Context, log logging.Logger) error {
	for {
		c.gate(ctx)
		if err := ctx.Err(); err != nil {
			log.Info(ctx, "simulation interrupted", logging.SimTime(c.clock.Now()))
			return err
		}
		if c.stopRequested() {
			c.finishEarly(ctx, log, "stop requested")
			return nil
		}

		if err := c.tick(ctx); err != nil {
			return err
		}

		switch {
		case c.stopRequested():
			c.finishEarly(ctx, log, "stop requested")
			return nil
		case c.finishWhenEmpty && c.elements.SourcesExhausted() && c.topo.AgentCount() == 0:
			c.finishEarly(ctx, log, "no agents left")
			return nil
		case c.clock.Done():
			log.Info(ctx, "run time elapsed", logging.SimTime(c.clock.Now()))
			return nil
		}

		delta := c.clock.Advance()
		if err := c.pacer.Wait(ctx, delta); err != nil {
			continue
		}
		if c.Status().SingleStep {
			simTime := c.clock.Now()
			for _, l := range c.remoteListeners() {
				l.SimStep(simTime)
			}
		}
	}
}

// tick runs one global step at the current simulated time.
func (c *Controller) tick(ctx context.Context) error {
	simTime, step := c.clock.Now(), c.clock.Step()
	ctx, span := observability.StartTickSpan(ctx, c.tracer, simTime, step)
	var steps, agents int
	defer func() { observability.EndTickSpan(span, steps, agents) }()
	start := time.Now()
	pre, post, sinks := c.callbacks()

	for _, fn := range pre {
		fn(simTime)
	}
	if err := c.elements.Update(ctx, simTime); err != nil {
		return fmt.Errorf("update scenario elements at t=%.3f: %w", simTime, err)
	}
	stimuli := c.psych.Update(simTime, c.topo.Agents())
	steps, err := c.sched.Drain(ctx, simTime)
	if err != nil {
		return fmt.Errorf("step agents at t=%.3f: %w", simTime, err)
	}
	if err := c.elements.UpdateTeleporter(ctx, simTime); err != nil {
		return fmt.Errorf("update teleporter at t=%.3f: %w", simTime, err)
	}
	for _, fn := range post {
		fn(simTime)
	}
	if c.checkInvariants {
		c.checkBounds(ctx, simTime)
	}

	if len(sinks) > 0 {
		snap := c.snapshot(simTime, step)
		for _, s := range sinks {
			if err := s.Consume(ctx, snap); err != nil {
				return fmt.Errorf("snapshot sink at t=%.3f: %w", simTime, err)
			}
		}
	}

	agents = c.topo.AgentCount()
	c.mu.Lock()
	c.agents = agents
	c.mu.Unlock()

	c.metrics.ObserveTick(simTime, agents, c.sched.Len(), time.Since(start))
	c.metrics.AddStimuli(stimuli)
	return nil
}

// gate blocks at a tick boundary while the run is paused or, in single-step
// mode, while the clock has reached the commanded time.
func (c *Controller) gate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ctx.Err() == nil && !c.stopEarly {
		if c.paused {
			c.waiting = false
			c.cond.Wait()
			continue
		}
		if c.singleStep && c.clock.Now() >= c.simulateUntil-untilTolerance {
			c.waiting = true
			c.cond.Wait()
			continue
		}
		break
	}
	c.waiting = false
}

func (c *Controller) postLoop(ctx context.Context, log logging.Logger, runErr error) {
	c.mu.Lock()
	c.state = StatePostLoop
	c.isRunSimulation = false
	singleStep := c.singleStep
	seen := c.commands
	c.cond.Broadcast()
	c.mu.Unlock()

	simTime := c.clock.Now()
	_, _, sinks := c.callbacks()
	for _, s := range sinks {
		if closer, ok := s.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Warn(ctx, "closing snapshot sink failed", logging.Err(err))
			}
		}
	}

	if singleStep {
		for _, l := range c.remoteListeners() {
			l.SimulationEnd(simTime)
		}
		if runErr == nil {
			c.awaitFinalCommand(ctx, seen)
		}
	}

	switch {
	case runErr == nil, errors.Is(runErr, context.Canceled):
		log.Info(ctx, "simulation finished",
			logging.SimTime(simTime),
			logging.Int("steps", c.clock.Step()),
			logging.Int("agents", c.topo.AgentCount()),
		)
	default:
		log.Error(ctx, "simulation failed", logging.SimTime(simTime), logging.Err(runErr))
	}
	c.setState(StateFinished)
}

// awaitFinalCommand holds POST_LOOP until a remote controller acknowledges
// the end of the run. A run ended by StopEarly is already acknowledged.
func (c *Controller) awaitFinalCommand(ctx context.Context, seen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting = true
	for c.commands == seen && !c.stopEarly && ctx.Err() == nil {
		c.cond.Wait()
	}
	c.waiting = false
}

func (c *Controller) finishEarly(ctx context.Context, log logging.Logger, reason string) {
	simTime := c.clock.Now()
	log.Info(ctx, "simulation stopped early", logging.SimTime(simTime), logging.String("reason", reason))
	for _, l := range c.remoteListeners() {
		l.SimulationStoppedEarly(simTime)
	}
}

func (c *Controller) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopEarly
}

func (c *Controller) checkBounds(ctx context.Context, simTime float64) {
	for _, a := range c.topo.AgentsOutOfBounds() {
		c.log.Warn(ctx, "agent outside topography bounds",
			logging.AgentID(a.ID),
			logging.SimTime(simTime),
			logging.Float64("x", a.Position.X),
			logging.Float64("y", a.Position.Y),
		)
	}
}

func (c *Controller) wake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cond.Broadcast()
}
