package core

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
)

// SelfCategory is the behavioural mode assigned to an agent every tick by the
// cognition layer. It selects the navigation strategy used for the next step.
type SelfCategory int

const (
	CategoryTargetOriented SelfCategory = iota
	CategoryWait
	CategoryEvade
	CategoryCooperative
	CategoryChangeTarget
	CategorySocialDistancing
)

var selfCategoryNames = map[SelfCategory]string{
	CategoryTargetOriented:   "TARGET_ORIENTED",
	CategoryWait:             "WAIT",
	CategoryEvade:            "EVADE",
	CategoryCooperative:      "COOPERATIVE",
	CategoryChangeTarget:     "CHANGE_TARGET",
	CategorySocialDistancing: "SOCIAL_DISTANCING",
}

func (c SelfCategory) String() string {
	if s, ok := selfCategoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("SelfCategory(%d)", int(c))
}

// ParseSelfCategory converts a category name back to its value.
func ParseSelfCategory(s string) (SelfCategory, error) {
	for c, name := range selfCategoryNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown self category %q", s)
}

// NavigationKind is the target-oriented strategy an agent is built with.
type NavigationKind int

const (
	NavigationProximity NavigationKind = iota
	NavigationFollower
)

func (k NavigationKind) String() string {
	switch k {
	case NavigationProximity:
		return "proximity"
	case NavigationFollower:
		return "follower"
	default:
		return fmt.Sprintf("NavigationKind(%d)", int(k))
	}
}

// ParseNavigationKind accepts "proximity" and "follower".
func ParseNavigationKind(s string) (NavigationKind, error) {
	switch s {
	case "", "proximity":
		return NavigationProximity, nil
	case "follower":
		return NavigationFollower, nil
	default:
		return 0, fmt.Errorf("unknown navigation kind %q", s)
	}
}

// Action records what an agent did in its last committed step.
type Action int

const (
	ActionNone Action = iota
	ActionDirectStep
	ActionTangentialEvasion
	ActionSidewaysEvasion
	ActionFollowLeader
	ActionEscape
	ActionHold
	ActionWait
)

var actionNames = [...]string{
	ActionNone:              "none",
	ActionDirectStep:        "direct_step",
	ActionTangentialEvasion: "tangential_evasion",
	ActionSidewaysEvasion:   "sideways_evasion",
	ActionFollowLeader:      "follow_leader",
	ActionEscape:            "escape",
	ActionHold:              "hold",
	ActionWait:              "wait",
}

func (a Action) String() string {
	if int(a) >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Evasive reports whether the action is the result of a detected collision.
func (a Action) Evasive() bool {
	switch a {
	case ActionTangentialEvasion, ActionSidewaysEvasion, ActionFollowLeader, ActionEscape, ActionHold:
		return true
	}
	return false
}

// Footstep is one committed move.
type Footstep struct {
	Start, End         r2.Vec
	StartTime, EndTime float64
}

func (f Footstep) Length() float64   { return Distance(f.Start, f.End) }
func (f Footstep) Duration() float64 { return f.EndTime - f.StartTime }

// FootstepHistory is a bounded ring buffer of the most recent footsteps.
type FootstepHistory struct {
	steps []Footstep
	next  int
	full  bool
}

// NewFootstepHistory returns a history holding at most capacity footsteps.
func NewFootstepHistory(capacity int) *FootstepHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &FootstepHistory{steps: make([]Footstep, capacity)}
}

// Add records f, overwriting the oldest footstep once the buffer is full.
func (h *FootstepHistory) Add(f Footstep) {
	h.steps[h.next] = f
	h.next = (h.next + 1) % len(h.steps)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of stored footsteps.
func (h *FootstepHistory) Len() int {
	if h.full {
		return len(h.steps)
	}
	return h.next
}

// Last returns the most recent footstep.
func (h *FootstepHistory) Last() (Footstep, bool) {
	if h.Len() == 0 {
		return Footstep{}, false
	}
	return h.steps[(h.next-1+len(h.steps))%len(h.steps)], true
}

// Steps returns the stored footsteps, oldest first.
func (h *FootstepHistory) Steps() []Footstep {
	out := make([]Footstep, 0, h.Len())
	if h.full {
		out = append(out, h.steps[h.next:]...)
	}
	return append(out, h.steps[:h.next]...)
}

// AverageSpeed is the walked distance divided by the elapsed time over the
// stored footsteps. It is zero when no time has elapsed.
func (h *FootstepHistory) AverageSpeed() float64 {
	steps := h.Steps()
	lengths := make([]float64, len(steps))
	durations := make([]float64, len(steps))
	for i, f := range steps {
		lengths[i] = f.Length()
		durations[i] = f.Duration()
	}
	total := floats.Sum(durations)
	if total <= 0 {
		return 0
	}
	return floats.Sum(lengths) / total
}

// AgentAttributes parameterise agent construction.
type AgentAttributes struct {
	Radius               float64
	FreeFlowSpeed        float64
	StepLengthIntercept  float64
	StepLengthSlopeSpeed float64
	StepLengthSD         float64
	StepLengthDeviation  bool
	FootstepCapacity     int
	Navigation           NavigationKind
}

// Agent is a simulated pedestrian. Agents are owned by the simulation
// goroutine and only mutated during their own stepping turn.
type Agent struct {
	ID       int
	Position r2.Vec
	Velocity r2.Vec
	Radius   float64

	FreeFlowSpeed    float64
	StepLength       float64
	TimeOfNextStep   float64
	DurationNextStep float64

	Targets        []int
	TargetIndex    int
	PreviousTarget int // -1 when the agent has not reached any target yet

	SelfCategory SelfCategory
	Navigation   NavigationKind
	LastAction   Action

	// ThreatOrigin is set by perception while the agent perceives a threat.
	ThreatOrigin *r2.Vec

	Footsteps     *FootstepHistory
	RemainCounter int
	Steps         int

	// Waiting is set while the agent is held at a non-absorbing target until
	// WaitUntil.
	Waiting   bool
	WaitUntil float64

	queueIndex int
}

// NewAgent builds an agent at pos. The step length follows the linear
// speed/step-length relation of the attributes; with StepLengthDeviation set a
// Gaussian deviation clamped to one standard deviation is drawn from rnd.
func NewAgent(id int, pos r2.Vec, attrs AgentAttributes, rnd *rand.Rand) *Agent {
	stepLength := attrs.StepLengthIntercept + attrs.StepLengthSlopeSpeed*attrs.FreeFlowSpeed
	if attrs.StepLengthDeviation && rnd != nil {
		stepLength += attrs.StepLengthSD * lo.Clamp(rnd.NormFloat64(), -1, 1)
	}
	stepLength = math.Max(stepLength, Epsilon)

	capacity := attrs.FootstepCapacity
	if capacity <= 0 {
		capacity = 10
	}

	a := &Agent{
		ID:             id,
		Position:       pos,
		Radius:         attrs.Radius,
		FreeFlowSpeed:  attrs.FreeFlowSpeed,
		StepLength:     stepLength,
		PreviousTarget: -1,
		Navigation:     attrs.Navigation,
		Footsteps:      NewFootstepHistory(capacity),
		queueIndex:     -1,
	}
	a.DurationNextStep = a.stepDuration()
	return a
}

func (a *Agent) stepDuration() float64 {
	if a.FreeFlowSpeed <= 0 {
		return math.Inf(1)
	}
	return a.StepLength / a.FreeFlowSpeed
}

// CurrentTarget returns the id of the target the agent is heading for.
func (a *Agent) CurrentTarget() (int, bool) {
	if a.TargetIndex < 0 || a.TargetIndex >= len(a.Targets) {
		return 0, false
	}
	return a.Targets[a.TargetIndex], true
}

// HasNextTarget reports whether another target follows the current one.
func (a *Agent) HasNextTarget() bool {
	return a.TargetIndex+1 < len(a.Targets)
}

// AdvanceTarget moves on to the next target in the list.
func (a *Agent) AdvanceTarget() {
	if cur, ok := a.CurrentTarget(); ok {
		a.PreviousTarget = cur
	}
	a.TargetIndex++
}

// SetTargets replaces the target list and restarts at its first entry.
func (a *Agent) SetTargets(targets []int) {
	if cur, ok := a.CurrentTarget(); ok {
		a.PreviousTarget = cur
	}
	a.Targets = append([]int(nil), targets...)
	a.TargetIndex = 0
}

// RevertTarget makes the previously reached target current again. It
// reports false when the agent has not reached any target yet.
func (a *Agent) RevertTarget() bool {
	if a.PreviousTarget < 0 {
		return false
	}
	if a.TargetIndex > 0 && a.TargetIndex-1 < len(a.Targets) && a.Targets[a.TargetIndex-1] == a.PreviousTarget {
		a.TargetIndex--
	} else {
		rest := a.Targets[min(a.TargetIndex, len(a.Targets)):]
		a.Targets = append([]int{a.PreviousTarget}, rest...)
		a.TargetIndex = 0
	}
	a.PreviousTarget = -1
	return true
}

// Queued reports whether the agent currently sits in a scheduler queue.
func (a *Agent) Queued() bool { return a.queueIndex >= 0 }

// QueueIndex and SetQueueIndex let the event scheduler keep its heap
// position on the agent.
func (a *Agent) QueueIndex() int     { return a.queueIndex }
func (a *Agent) SetQueueIndex(i int) { a.queueIndex = i }

// Commit applies a navigation decision. The move is recorded as a footstep
// from TimeOfNextStep to TimeOfNextStep+DurationNextStep, the velocity is the
// forward difference over that interval, and the next step is scheduled.
// A zero-length move increments RemainCounter.
func (a *Agent) Commit(pos r2.Vec, action Action) {
	duration := a.stepDuration()
	start := a.TimeOfNextStep
	end := start + duration

	moved := Distance(a.Position, pos)
	if duration > 0 && !math.IsInf(duration, 0) {
		a.Velocity = r2.Scale(1/duration, r2.Sub(pos, a.Position))
	} else {
		a.Velocity = r2.Vec{}
	}

	a.Footsteps.Add(Footstep{Start: a.Position, End: pos, StartTime: start, EndTime: end})
	a.Position = pos
	a.LastAction = action
	if moved < Epsilon {
		a.RemainCounter++
	} else {
		a.RemainCounter = 0
	}
	a.Steps++
	a.DurationNextStep = duration
	a.TimeOfNextStep = end
}

// Heading returns the unit direction of the last committed movement.
func (a *Agent) Heading() (r2.Vec, bool) {
	return Unit(a.Velocity)
}
