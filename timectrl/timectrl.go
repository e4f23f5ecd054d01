package timectrl

import (
	"context"
	"math"
	"sync"
	"time"
)

// doneTolerance treats a remaining run time below it as elapsed, so float
// rounding never produces a sliver tick at the end of a run.
const doneTolerance = 1e-9

// Clock is read-only access to simulated time in seconds.
type Clock interface {
	Now() float64
}

// SimClock is the simulation clock. It advances in uniform steps of
// StepLength seconds, shortening the last step so that it never overshoots
// the run time. Now never decreases except through Reset.
//
// Only the simulation goroutine advances the clock; readers on other
// goroutines may call Now, Step and Remaining concurrently.
type SimClock struct {
	mu         sync.RWMutex
	startTime  float64
	stepLength float64
	runTime    float64

	now  float64
	step int

	listeners []func(simTime float64)
}

// NewSimClock constructs a clock starting at start. runTime <= 0 means the
// run has no time limit.
func NewSimClock(start, stepLength, runTime float64) *SimClock {
	return &SimClock{
		startTime:  start,
		stepLength: stepLength,
		runTime:    runTime,
		now:        start,
	}
}

// Now returns the current simulated time. Implements Clock.
func (c *SimClock) Now() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Step returns the number of completed advances.
func (c *SimClock) Step() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.step
}

func (c *SimClock) StartTime() float64  { return c.startTime }
func (c *SimClock) StepLength() float64 { return c.stepLength }
func (c *SimClock) RunTime() float64    { return c.runTime }

// Remaining returns the simulated time left in the run, +Inf without limit.
func (c *SimClock) Remaining() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remainingLocked()
}

func (c *SimClock) remainingLocked() float64 {
	if c.runTime <= 0 {
		return math.Inf(1)
	}
	return math.Max(0, c.startTime+c.runTime-c.now)
}

// Done reports whether the run time has elapsed.
func (c *SimClock) Done() bool {
	return c.Remaining() <= doneTolerance
}

// AddListener registers a callback invoked after every advance with the new
// simulated time.
func (c *SimClock) AddListener(fn func(simTime float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Advance moves the clock forward by min(StepLength, Remaining) and returns
// the increment. It returns 0 once the run time has elapsed.
func (c *SimClock) Advance() float64 {
	c.mu.Lock()
	remaining := c.remainingLocked()
	if remaining <= doneTolerance {
		c.mu.Unlock()
		return 0
	}
	inc := math.Min(c.stepLength, remaining)
	c.now += inc
	c.step++
	now := c.now
	listeners := append([]func(float64){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return inc
}

// Reset rewinds the clock to its start time.
func (c *SimClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.startTime
	c.step = 0
}

// Mode describes how the simulation loop is paced against wall time.
type Mode int

const (
	// Accelerated advances as quickly as the loop can run.
	Accelerated Mode = iota
	// RealTime throttles ticks so simulated time tracks wall time scaled by
	// the pacer's factor.
	RealTime
)

// Pacer throttles the simulation loop. It is best effort: a tick that takes
// longer than its wall-time budget is not compensated later.
type Pacer struct {
	Mode   Mode
	Factor float64

	last time.Time
	now  func() time.Time
}

// NewPacer returns a pacer. factor <= 0 yields an accelerated pacer.
func NewPacer(factor float64) *Pacer {
	mode := RealTime
	if factor <= 0 {
		mode = Accelerated
	}
	return &Pacer{Mode: mode, Factor: factor, now: time.Now}
}

// Wait blocks until simDelta simulated seconds worth of wall time have passed
// since the previous Wait, or ctx is done.
func (p *Pacer) Wait(ctx context.Context, simDelta float64) error {
	if p == nil || p.Mode == Accelerated || p.Factor <= 0 {
		return nil
	}
	now := p.now()
	if p.last.IsZero() {
		p.last = now
	}
	budget := time.Duration(simDelta / p.Factor * float64(time.Second))
	wait := budget - now.Sub(p.last)
	if wait <= 0 {
		p.last = now
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		p.last = p.now()
		return nil
	}
}
