package world

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/config"
	"github.com/signalsfoundry/crowd-simulator/internal/observability"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
)

func loadConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return cfg
}

func finalStates(t *testing.T, cfg *config.Config) []controller.AgentState {
	t.Helper()
	w, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var last controller.Snapshot
	w.Controller.AddSnapshotSink(controller.SnapshotSinkFunc(func(_ context.Context, s controller.Snapshot) error {
		last = s
		return nil
	}))
	if err := w.Controller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return last.Agents
}

func TestBuildDefaults(t *testing.T) {
	cfg := loadConfig(t, "")
	w, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := len(w.Topography.Obstacles()); got != 1 {
		t.Fatalf("obstacles = %d, want 1", got)
	}
	if _, err := w.Topography.Target(1); err != nil {
		t.Fatalf("target 1 missing: %v", err)
	}
	if len(w.Elements.Sources) != 2 || w.Elements.Targets == nil {
		t.Fatalf("elements not built: %+v", w.Elements)
	}
	if w.Elements.Reconsider != nil || w.Elements.Teleporter != nil {
		t.Fatalf("optional elements should be off by default")
	}
	if w.Clock.StepLength() != 0.4 {
		t.Fatalf("clock step = %v", w.Clock.StepLength())
	}
}

func TestSameSeedReproduces(t *testing.T) {
	doc := `
simulation:
  run_time: 12
  seed: 7
`
	first := finalStates(t, loadConfig(t, doc))
	second := finalStates(t, loadConfig(t, doc))

	if len(first) == 0 {
		t.Fatalf("no agents in final snapshot")
	}
	if len(first) != len(second) {
		t.Fatalf("agent counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("agent %d diverged: %+v vs %+v", first[i].ID, first[i], second[i])
		}
	}
}

func TestPedestriansAndStimuliFromConfig(t *testing.T) {
	cfg := loadConfig(t, `
simulation:
  run_time: 2
topography:
  sources: []
  pedestrians:
    - id: 4
      position: {x: 10, y: 5}
      targets: [1]
      navigation: follower
psychology:
  stimuli:
    - kind: wait
      start: 0
      end: 10
      repeat: true
`)
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	w, err := Build(cfg, WithMetrics(metrics))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	a, ok := w.Topography.Agent(4)
	if !ok {
		t.Fatalf("pedestrian 4 not placed")
	}
	if a.Navigation != core.NavigationFollower {
		t.Fatalf("navigation override ignored: %v", a.Navigation)
	}

	if err := w.Controller.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Position.X != 10 || a.Position.Y != 5 {
		t.Fatalf("waiting pedestrian moved to %v", a.Position)
	}
	if a.SelfCategory != core.CategoryWait {
		t.Fatalf("category = %v, want WAIT", a.SelfCategory)
	}
	if got := testutil.ToFloat64(metrics.NavigationActions.WithLabelValues(core.ActionWait.String())); got == 0 {
		t.Fatalf("wait steps not recorded")
	}
	if got := testutil.ToFloat64(metrics.TicksTotal); got != 6 {
		t.Fatalf("ticks = %v, want 6", got)
	}
}
