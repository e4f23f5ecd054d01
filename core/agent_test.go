package core

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

func testAttributes() AgentAttributes {
	return AgentAttributes{
		Radius:               0.2,
		FreeFlowSpeed:        1.34,
		StepLengthIntercept:  0.4625,
		StepLengthSlopeSpeed: 0.2345,
		StepLengthSD:         0.036,
		FootstepCapacity:     4,
	}
}

func TestNewAgentStepLength(t *testing.T) {
	attrs := testAttributes()
	a := NewAgent(1, r2.Vec{}, attrs, nil)

	want := attrs.StepLengthIntercept + attrs.StepLengthSlopeSpeed*attrs.FreeFlowSpeed
	if math.Abs(a.StepLength-want) > 1e-12 {
		t.Fatalf("StepLength = %v, want %v", a.StepLength, want)
	}
	if math.Abs(a.DurationNextStep-want/attrs.FreeFlowSpeed) > 1e-12 {
		t.Fatalf("DurationNextStep = %v, want %v", a.DurationNextStep, want/attrs.FreeFlowSpeed)
	}
	if a.PreviousTarget != -1 {
		t.Fatalf("PreviousTarget = %d, want -1", a.PreviousTarget)
	}
	if a.Queued() {
		t.Fatalf("new agent must not be queued")
	}
}

func TestNewAgentStepLengthDeviationIsClamped(t *testing.T) {
	attrs := testAttributes()
	attrs.StepLengthDeviation = true
	base := attrs.StepLengthIntercept + attrs.StepLengthSlopeSpeed*attrs.FreeFlowSpeed

	rnd := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		a := NewAgent(i, r2.Vec{}, attrs, rnd)
		if math.Abs(a.StepLength-base) > attrs.StepLengthSD+1e-12 {
			t.Fatalf("agent %d step length %v deviates more than one SD from %v", i, a.StepLength, base)
		}
	}

	a1 := NewAgent(1, r2.Vec{}, attrs, rand.New(rand.NewSource(5)))
	a2 := NewAgent(1, r2.Vec{}, attrs, rand.New(rand.NewSource(5)))
	if a1.StepLength != a2.StepLength {
		t.Fatalf("same seed produced %v and %v", a1.StepLength, a2.StepLength)
	}
}

func TestAgentCommit(t *testing.T) {
	a := NewAgent(1, r2.Vec{X: 1, Y: 1}, testAttributes(), nil)
	a.TimeOfNextStep = 2
	d := a.DurationNextStep

	a.Commit(r2.Vec{X: 1.5, Y: 1}, ActionDirectStep)

	if a.Position != (r2.Vec{X: 1.5, Y: 1}) {
		t.Fatalf("Position = %v", a.Position)
	}
	if math.Abs(a.Velocity.X-0.5/d) > 1e-12 || a.Velocity.Y != 0 {
		t.Fatalf("Velocity = %v, want (%v, 0)", a.Velocity, 0.5/d)
	}
	if math.Abs(a.TimeOfNextStep-(2+d)) > 1e-12 {
		t.Fatalf("TimeOfNextStep = %v, want %v", a.TimeOfNextStep, 2+d)
	}
	if a.Steps != 1 || a.RemainCounter != 0 || a.LastAction != ActionDirectStep {
		t.Fatalf("unexpected bookkeeping: steps=%d remain=%d action=%v", a.Steps, a.RemainCounter, a.LastAction)
	}

	a.Commit(a.Position, ActionHold)
	if a.Velocity != (r2.Vec{}) {
		t.Fatalf("held agent velocity = %v, want zero", a.Velocity)
	}
	if a.RemainCounter != 1 {
		t.Fatalf("RemainCounter = %d, want 1", a.RemainCounter)
	}
	if last, ok := a.Footsteps.Last(); !ok || last.Length() != 0 {
		t.Fatalf("last footstep = %+v, want zero-length", last)
	}
}

func TestFootstepHistoryRing(t *testing.T) {
	h := NewFootstepHistory(3)
	for i := 0; i < 5; i++ {
		x := float64(i)
		h.Add(Footstep{
			Start:     r2.Vec{X: x},
			End:       r2.Vec{X: x + 1},
			StartTime: x,
			EndTime:   x + 0.5,
		})
	}

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
	steps := h.Steps()
	for i, f := range steps {
		if f.Start.X != float64(i+2) {
			t.Fatalf("steps[%d].Start.X = %v, want %v (oldest first)", i, f.Start.X, i+2)
		}
	}
	if got := h.AverageSpeed(); math.Abs(got-2) > 1e-12 {
		t.Fatalf("AverageSpeed() = %v, want 2", got)
	}
	if last, _ := h.Last(); last.Start.X != 4 {
		t.Fatalf("Last().Start.X = %v, want 4", last.Start.X)
	}

	if NewFootstepHistory(2).AverageSpeed() != 0 {
		t.Fatalf("empty history must report zero speed")
	}
}

func TestAgentTargets(t *testing.T) {
	a := NewAgent(1, r2.Vec{}, testAttributes(), nil)
	a.SetTargets([]int{3, 4})

	if id, ok := a.CurrentTarget(); !ok || id != 3 {
		t.Fatalf("CurrentTarget() = %d,%v want 3,true", id, ok)
	}
	if !a.HasNextTarget() {
		t.Fatalf("expected a next target")
	}
	a.AdvanceTarget()
	if id, _ := a.CurrentTarget(); id != 4 || a.PreviousTarget != 3 {
		t.Fatalf("after advance: current=%d previous=%d", id, a.PreviousTarget)
	}
	a.AdvanceTarget()
	if _, ok := a.CurrentTarget(); ok {
		t.Fatalf("target list should be exhausted")
	}
}

func TestParseEnums(t *testing.T) {
	for _, c := range []SelfCategory{CategoryTargetOriented, CategoryWait, CategoryEvade, CategoryCooperative, CategoryChangeTarget, CategorySocialDistancing} {
		got, err := ParseSelfCategory(c.String())
		if err != nil || got != c {
			t.Fatalf("ParseSelfCategory(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseSelfCategory("PANIC"); err == nil {
		t.Fatalf("expected error for unknown category")
	}
	if k, err := ParseNavigationKind("follower"); err != nil || k != NavigationFollower {
		t.Fatalf("ParseNavigationKind(follower) = %v, %v", k, err)
	}
	if !ActionHold.Evasive() || ActionDirectStep.Evasive() {
		t.Fatalf("Evasive() classification wrong")
	}
}

func TestAgentRevertTarget(t *testing.T) {
	a := NewAgent(1, r2.Vec{}, testAttributes(), nil)
	if a.RevertTarget() {
		t.Fatalf("revert without previous target")
	}

	a.SetTargets([]int{3, 4})
	a.AdvanceTarget()
	if !a.RevertTarget() {
		t.Fatalf("revert failed")
	}
	if id, _ := a.CurrentTarget(); id != 3 || a.PreviousTarget != -1 {
		t.Fatalf("after revert: current=%d previous=%d", id, a.PreviousTarget)
	}

	a.AdvanceTarget()
	a.SetTargets([]int{8})
	if !a.RevertTarget() {
		t.Fatalf("revert after retarget failed")
	}
	if len(a.Targets) != 2 || a.Targets[0] != 4 || a.Targets[1] != 8 {
		t.Fatalf("targets after revert = %v, want [4 8]", a.Targets)
	}
}
