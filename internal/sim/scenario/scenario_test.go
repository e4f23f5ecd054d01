package scenario

import (
	"context"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/crowd-simulator/core"
	"gonum.org/v1/gonum/spatial/r2"
)

func newTopography() *core.Topography {
	return core.NewTopography(core.Box{Max: r2.Vec{X: 30, Y: 10}}, 2)
}

func attrs() core.AgentAttributes {
	return core.AgentAttributes{Radius: 0.2, FreeFlowSpeed: 1.3, StepLengthIntercept: 0.6}
}

func addAgent(t *testing.T, topo *core.Topography, pos r2.Vec, targets ...int) *core.Agent {
	t.Helper()
	a := core.NewAgent(topo.NextAgentID(), pos, attrs(), nil)
	a.SetTargets(targets)
	if err := topo.AddAgent(a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestSourceSpawnsOnScheduleUntilMax(t *testing.T) {
	ctx := context.Background()
	topo := newTopography()
	src := NewSource(SourceConfig{
		ID:          1,
		Shape:       core.NewRectangle(0, 0, 5, 5),
		StartTime:   1,
		Interval:    1,
		SpawnNumber: 2,
		MaxSpawn:    5,
		Targets:     []int{9},
		Attributes:  attrs(),
	}, topo, rand.New(rand.NewSource(1)), nil)

	if err := src.Update(ctx, 0.5); err != nil || topo.AgentCount() != 0 {
		t.Fatalf("spawned before start: %d agents, err %v", topo.AgentCount(), err)
	}
	if err := src.Update(ctx, 1.0); err != nil || topo.AgentCount() != 2 {
		t.Fatalf("first batch: %d agents, err %v", topo.AgentCount(), err)
	}
	// Two batches are due by t=3.
	if err := src.Update(ctx, 3.0); err != nil {
		t.Fatal(err)
	}
	if topo.AgentCount() != 5 || !src.Exhausted() {
		t.Fatalf("after max: %d agents, exhausted %v", topo.AgentCount(), src.Exhausted())
	}

	for _, a := range topo.Agents() {
		if id, _ := a.CurrentTarget(); id != 9 {
			t.Fatalf("spawned agent target = %d", id)
		}
		if !core.BoxContains(core.NewRectangle(0, 0, 5, 5).Bounds(), a.Position) {
			t.Fatalf("agent spawned outside source at %v", a.Position)
		}
		for _, b := range topo.Agents() {
			if a != b && core.Distance(a.Position, b.Position) < a.Radius+b.Radius {
				t.Fatalf("agents %d and %d spawned overlapping", a.ID, b.ID)
			}
		}
	}
}

func TestSourceSingleBatch(t *testing.T) {
	topo := newTopography()
	src := NewSource(SourceConfig{Shape: core.NewRectangle(0, 0, 5, 5), SpawnNumber: 3, Attributes: attrs()},
		topo, rand.New(rand.NewSource(2)), nil)
	if err := src.Update(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if topo.AgentCount() != 3 || !src.Exhausted() {
		t.Fatalf("single batch: %d agents, exhausted %v", topo.AgentCount(), src.Exhausted())
	}
}

func TestTargetControllerWaitsThenAdvances(t *testing.T) {
	ctx := context.Background()
	topo := newTopography()
	topo.AddTarget(&core.Target{ID: 1, Shape: core.NewRectangle(0, 0, 2, 2), WaitingTime: 1})
	topo.AddTarget(&core.Target{ID: 2, Shape: core.NewRectangle(20, 0, 2, 2), Absorbing: true})
	a := addAgent(t, topo, r2.Vec{X: 1, Y: 1}, 1, 2)

	c := NewTargetController(topo)
	if err := c.Update(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if id, _ := a.CurrentTarget(); id != 1 || !a.Waiting {
		t.Fatalf("agent should wait at target 1, current=%d waiting=%v", id, a.Waiting)
	}
	_ = c.Update(ctx, 5.5)
	if id, _ := a.CurrentTarget(); id != 1 {
		t.Fatalf("agent left early")
	}
	_ = c.Update(ctx, 6)
	if id, _ := a.CurrentTarget(); id != 2 || a.Waiting || a.PreviousTarget != 1 {
		t.Fatalf("agent did not advance: current=%d waiting=%v previous=%d", id, a.Waiting, a.PreviousTarget)
	}

	topo.Relocate(a, r2.Vec{X: 21, Y: 1})
	_ = c.Update(ctx, 7)
	if topo.AgentCount() != 0 {
		t.Fatalf("absorbing target kept the agent")
	}
}

func TestTargetChangerAndAbsorbingArea(t *testing.T) {
	ctx := context.Background()
	topo := newTopography()
	a := addAgent(t, topo, r2.Vec{X: 5, Y: 5}, 1)
	b := addAgent(t, topo, r2.Vec{X: 15, Y: 5}, 1)

	changer := NewTargetChanger(core.Circle{Center: r2.Vec{X: 5, Y: 5}, Radius: 1}, []int{3, 4}, 1, topo, rand.New(rand.NewSource(1)))
	if err := changer.Update(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if id, _ := a.CurrentTarget(); id != 3 {
		t.Fatalf("changer did not redirect, current=%d", id)
	}
	if id, _ := b.CurrentTarget(); id != 1 {
		t.Fatalf("changer redirected agent outside its area")
	}
	// Still inside: not redirected again.
	a.AdvanceTarget()
	_ = changer.Update(ctx, 0.4)
	if id, _ := a.CurrentTarget(); id != 4 {
		t.Fatalf("changer fired twice for one visit, current=%d", id)
	}

	area := NewAbsorbingArea(core.NewRectangle(14, 4, 2, 2), topo)
	if err := area.Update(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := topo.Agent(b.ID); ok || topo.AgentCount() != 1 {
		t.Fatalf("absorbing area kept agent %d", b.ID)
	}
}

func TestTeleporter(t *testing.T) {
	topo := newTopography()
	a := addAgent(t, topo, r2.Vec{X: 25.5, Y: 5})
	b := addAgent(t, topo, r2.Vec{X: 10, Y: 5})

	tp := NewTeleporter(r2.Vec{X: 25}, r2.Vec{X: -25}, topo)
	moved, err := tp.Update(context.Background(), 0)
	if err != nil || moved != 1 {
		t.Fatalf("moved=%d err=%v", moved, err)
	}
	if a.Position.X != 0.5 || b.Position.X != 10 {
		t.Fatalf("positions after teleport: %v %v", a.Position, b.Position)
	}
	if got := topo.Neighbors(r2.Vec{X: 0.5, Y: 5}, 0.1); len(got) != 1 || got[0] != a {
		t.Fatalf("teleported agent not re-indexed")
	}
}

func TestReconsiderOldTarget(t *testing.T) {
	topo := newTopography()
	topo.AddTarget(&core.Target{ID: 1, Shape: core.NewRectangle(0, 0, 2, 2)})
	topo.AddTarget(&core.Target{ID: 2, Shape: core.NewRectangle(20, 0, 2, 2)})
	stuck := addAgent(t, topo, r2.Vec{X: 2.5, Y: 1}, 1, 2)
	stuck.AdvanceTarget()
	stuck.RemainCounter = 6
	far := addAgent(t, topo, r2.Vec{X: 12, Y: 1}, 1, 2)
	far.AdvanceTarget()
	far.RemainCounter = 6

	policy := NewReconsiderOldTarget(5, 2, 2, topo)
	n, err := policy.Update(context.Background(), 0)
	if err != nil || n != 1 {
		t.Fatalf("reverted %d agents, err %v", n, err)
	}
	if id, _ := stuck.CurrentTarget(); id != 1 {
		t.Fatalf("stuck agent target = %d, want 1", id)
	}
	if id, _ := far.CurrentTarget(); id != 2 {
		t.Fatalf("far agent target = %d, want 2", id)
	}
}

func TestElementsUpdate(t *testing.T) {
	topo := newTopography()
	src := NewSource(SourceConfig{Shape: core.NewRectangle(0, 0, 5, 5), SpawnNumber: 1, Attributes: attrs()},
		topo, rand.New(rand.NewSource(3)), nil)
	e := &Elements{Topography: topo, Sources: []*Source{src}, Targets: NewTargetController(topo)}

	if e.SourcesExhausted() {
		t.Fatalf("exhausted before first update")
	}
	if err := e.Update(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if !e.SourcesExhausted() || topo.AgentCount() != 1 {
		t.Fatalf("exhausted=%v agents=%d", e.SourcesExhausted(), topo.AgentCount())
	}
	if err := e.UpdateTeleporter(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
}
