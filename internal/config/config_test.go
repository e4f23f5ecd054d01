package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/psychology"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestDefaultsLoad(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}

	if cfg.Simulation.StepLength != 0.4 {
		t.Fatalf("step_length = %v, want 0.4", cfg.Simulation.StepLength)
	}
	if got := cfg.Derived.Navigation.ContraFlowAngle; math.Abs(got-math.Pi/4) > 1e-12 {
		t.Fatalf("contra-flow angle = %v rad, want pi/4", got)
	}
	if got := cfg.Derived.Navigation.FollowerAngleMovement; math.Abs(got-math.Pi/6) > 1e-12 {
		t.Fatalf("follower movement angle = %v rad, want pi/6", got)
	}
	if cfg.Derived.Attributes.Navigation != core.NavigationProximity {
		t.Fatalf("default navigation = %v", cfg.Derived.Attributes.Navigation)
	}
	if cfg.Derived.Bounds.Max != (r2.Vec{X: 30, Y: 10}) {
		t.Fatalf("bounds = %+v", cfg.Derived.Bounds)
	}
	if len(cfg.Topography.Sources) != 2 || len(cfg.Topography.Targets) != 2 {
		t.Fatalf("default corridor should have two sources and two targets")
	}
}

func TestUserFileOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	doc := `
simulation:
  run_time: 5
  single_step: true
pedestrian:
  navigation: follower
psychology:
  stimuli:
    - kind: threat
      start: 1
      origin: {x: 10, y: 5}
      radius: 3
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.RunTime != 5 || !cfg.Simulation.SingleStep {
		t.Fatalf("overrides not applied: %+v", cfg.Simulation)
	}
	if cfg.Simulation.StepLength != 0.4 {
		t.Fatalf("untouched default lost: step_length = %v", cfg.Simulation.StepLength)
	}
	if cfg.Derived.Attributes.Navigation != core.NavigationFollower {
		t.Fatalf("navigation = %v, want follower", cfg.Derived.Attributes.Navigation)
	}
	if len(cfg.Derived.Stimuli) != 1 {
		t.Fatalf("derived stimuli = %d, want 1", len(cfg.Derived.Stimuli))
	}
	st := cfg.Derived.Stimuli[0].Stimuli[0]
	if st.Kind != psychology.StimulusThreat || st.Origin != (r2.Vec{X: 10, Y: 5}) || st.Radius != 3 {
		t.Fatalf("stimulus = %+v", st)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`
simulation:
  step_length: 0
pedestrian:
  navigation: teleport
topography:
  sources:
    - id: 1
      shape: {type: rectangle, x: 0, y: 0, width: 1, height: 1}
      targets: [99]
  obstacles:
    - id: 1
      shape: {type: polygon, points: [{x: 0, y: 0}, {x: 1, y: 0}]}
psychology:
  stimuli:
    - kind: panic
`))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Parse = %v, want ErrInvalidConfig", err)
	}
	for _, want := range []string{
		"simulation.step_length",
		"pedestrian.navigation",
		"unknown target 99",
		"polygon needs at least 3 points",
		"psychology.stimuli[0].kind",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Parse([]byte("simulation: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestShapeBuild(t *testing.T) {
	cases := []struct {
		name  string
		shape ShapeConfig
		in    r2.Vec
		out   r2.Vec
	}{
		{"rectangle", ShapeConfig{Type: "rectangle", X: 1, Y: 1, Width: 2, Height: 2}, r2.Vec{X: 2, Y: 2}, r2.Vec{X: 4, Y: 2}},
		{"circle", ShapeConfig{Type: "circle", X: 0, Y: 0, Radius: 1}, r2.Vec{X: 0.5}, r2.Vec{X: 1.5}},
		{"polygon", ShapeConfig{Type: "polygon", Points: []PointConfig{{0, 0}, {4, 0}, {0, 4}}}, r2.Vec{X: 1, Y: 1}, r2.Vec{X: 3, Y: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := tc.shape.Build()
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if !s.Contains(tc.in) || s.Contains(tc.out) {
				t.Fatalf("%s containment wrong", tc.name)
			}
		})
	}

	if _, err := (ShapeConfig{Type: "hexagon"}).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unknown shape error = %v", err)
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Simulation.Seed = 99
	path := filepath.Join(t.TempDir(), "dump.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load dump: %v", err)
	}
	if back.Simulation.Seed != 99 {
		t.Fatalf("seed = %d, want 99", back.Simulation.Seed)
	}
}
