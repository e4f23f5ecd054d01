// Package config loads simulator configuration: embedded defaults overlaid by
// an optional user YAML file, validated, with derived runtime values.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/navigation"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/psychology"
	"gonum.org/v1/gonum/spatial/r2"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all simulator configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Navigation NavigationConfig `yaml:"navigation"`
	Pedestrian PedestrianConfig `yaml:"pedestrian"`
	Psychology PsychologyConfig `yaml:"psychology"`
	Topography TopographyConfig `yaml:"topography"`
	Output     OutputConfig     `yaml:"output"`
	Remote     RemoteConfig     `yaml:"remote"`
	Debug      DebugConfig      `yaml:"debug"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig controls the clock and the run mode.
type SimulationConfig struct {
	StartTime            float64 `yaml:"start_time"`
	StepLength           float64 `yaml:"step_length"`
	RunTime              float64 `yaml:"run_time"`         // 0 = unlimited
	RealTimeFactor       float64 `yaml:"real_time_factor"` // 0 = accelerated
	Seed                 int64   `yaml:"seed"`
	FinishWhenEmpty      bool    `yaml:"finish_when_empty"`
	SingleStep           bool    `yaml:"single_step"`
	ReconsiderOldTargets bool    `yaml:"reconsider_old_targets"`
}

// NavigationConfig holds the locomotion parameters. Angles are in degrees.
type NavigationConfig struct {
	SafetyMargin                float64 `yaml:"safety_margin"`
	ContraFlowFilter            bool    `yaml:"contra_flow_filter"`
	ContraFlowAngleDeg          float64 `yaml:"contra_flow_angle_deg"`
	BackwardsAngleDeg           float64 `yaml:"backwards_angle_deg"`
	TangentialEvasion           bool    `yaml:"tangential_evasion"`
	SidewaysEvasion             bool    `yaml:"sideways_evasion"`
	EvasionDetourThreshold      float64 `yaml:"evasion_detour_threshold"`
	PlannedStepsAhead           int     `yaml:"planned_steps_ahead"`
	FollowerDistance            float64 `yaml:"follower_distance"`
	FollowerAngleMovementDeg    float64 `yaml:"follower_angle_movement_deg"`
	FollowerAngleToTargetDeg    float64 `yaml:"follower_angle_to_target_deg"`
	FollowerProximityNavigation bool    `yaml:"follower_proximity_navigation"`
	EscapeWeight                float64 `yaml:"escape_weight"`
}

// PedestrianConfig holds the attributes every spawned agent starts with.
type PedestrianConfig struct {
	Radius               float64 `yaml:"radius"`
	FreeFlowSpeed        float64 `yaml:"free_flow_speed"`
	StepLengthIntercept  float64 `yaml:"step_length_intercept"`
	StepLengthSlopeSpeed float64 `yaml:"step_length_slope_speed"`
	StepLengthSD         float64 `yaml:"step_length_sd"`
	StepLengthDeviation  bool    `yaml:"step_length_deviation"`
	FootstepCapacity     int     `yaml:"footstep_capacity"`
	Navigation           string  `yaml:"navigation"` // proximity | follower
}

// PsychologyConfig configures the cognition model and scripted stimuli.
type PsychologyConfig struct {
	CooperativeAfterTicks int              `yaml:"cooperative_after_ticks"`
	Stimuli               []StimulusConfig `yaml:"stimuli"`
}

// StimulusConfig is one scripted stimulus with its timeframe.
type StimulusConfig struct {
	Kind        string      `yaml:"kind"` // elapsed_time | wait | change_target | threat
	Start       float64     `yaml:"start"`
	End         float64     `yaml:"end"`
	Repeat      bool        `yaml:"repeat"`
	WaitBetween float64     `yaml:"wait_between"`
	Origin      PointConfig `yaml:"origin"`
	Radius      float64     `yaml:"radius"`
	Targets     []int       `yaml:"targets"`
	AgentIDs    []int       `yaml:"agent_ids"`
}

// PointConfig is a 2D point.
type PointConfig struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// RectConfig is an axis-aligned rectangle given by its lower-left corner.
type RectConfig struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// ShapeConfig describes a circle, rectangle or polygon.
type ShapeConfig struct {
	Type   string        `yaml:"type"` // rectangle | circle | polygon
	X      float64       `yaml:"x"`
	Y      float64       `yaml:"y"`
	Width  float64       `yaml:"width"`
	Height float64       `yaml:"height"`
	Radius float64       `yaml:"radius"`
	Points []PointConfig `yaml:"points"`
}

// ObstacleConfig is a static obstacle.
type ObstacleConfig struct {
	ID    int         `yaml:"id"`
	Shape ShapeConfig `yaml:"shape"`
}

// TargetConfig is a target area.
type TargetConfig struct {
	ID          int         `yaml:"id"`
	Absorbing   bool        `yaml:"absorbing"`
	WaitingTime float64     `yaml:"waiting_time"`
	Shape       ShapeConfig `yaml:"shape"`
}

// SourceConfig is an agent source.
type SourceConfig struct {
	ID          int         `yaml:"id"`
	Shape       ShapeConfig `yaml:"shape"`
	Targets     []int       `yaml:"targets"`
	StartTime   float64     `yaml:"start_time"`
	EndTime     float64     `yaml:"end_time"`
	Interval    float64     `yaml:"interval"`
	SpawnNumber int         `yaml:"spawn_number"`
	MaxSpawn    int         `yaml:"max_spawn"`
}

// TargetChangerConfig redirects agents entering its area.
type TargetChangerConfig struct {
	Shape       ShapeConfig `yaml:"shape"`
	NextTargets []int       `yaml:"next_targets"`
	Probability float64     `yaml:"probability"`
}

// TeleporterConfig wraps agents crossing Position by Shift.
type TeleporterConfig struct {
	Position PointConfig `yaml:"position"`
	Shift    PointConfig `yaml:"shift"`
}

// ReconsiderConfig tunes the reconsider-old-target policy.
type ReconsiderConfig struct {
	StuckTicks int     `yaml:"stuck_ticks"`
	ThresholdX float64 `yaml:"threshold_x"`
	ThresholdY float64 `yaml:"threshold_y"`
}

// PedestrianSpawnConfig places one agent at start.
type PedestrianSpawnConfig struct {
	ID         int         `yaml:"id"`
	Position   PointConfig `yaml:"position"`
	Targets    []int       `yaml:"targets"`
	Navigation string      `yaml:"navigation"` // empty = pedestrian.navigation
}

// TopographyConfig describes the scenario geometry and its element
// controllers.
type TopographyConfig struct {
	Bounds         RectConfig              `yaml:"bounds"`
	CellSize       float64                 `yaml:"cell_size"`
	Obstacles      []ObstacleConfig        `yaml:"obstacles"`
	Targets        []TargetConfig          `yaml:"targets"`
	Sources        []SourceConfig          `yaml:"sources"`
	TargetChangers []TargetChangerConfig   `yaml:"target_changers"`
	AbsorbingAreas []ShapeConfig           `yaml:"absorbing_areas"`
	Teleporter     *TeleporterConfig       `yaml:"teleporter"`
	Reconsider     ReconsiderConfig        `yaml:"reconsider"`
	Pedestrians    []PedestrianSpawnConfig `yaml:"pedestrians"`
}

// OutputConfig controls the trajectory writer.
type OutputConfig struct {
	Trajectories string `yaml:"trajectories"`
	Every        int    `yaml:"every"`
}

// RemoteConfig holds the remote-control server addresses.
type RemoteConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// DebugConfig toggles development diagnostics.
type DebugConfig struct {
	CheckInvariants bool `yaml:"check_invariants"`
}

// DerivedConfig holds values computed from the loaded configuration.
type DerivedConfig struct {
	Navigation navigation.Config
	Attributes core.AgentAttributes
	Bounds     core.Box
	Stimuli    []psychology.StimulusInfo
}

// Load reads the embedded defaults, overlays the file at path if non-empty,
// validates the result and computes derived values.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return Parse(data)
}

// Parse is Load for an in-memory user document. Empty data yields the
// defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if len(data) > 0 {
		// Unmarshal into the same struct so only fields present in data change.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.computeDerived(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteYAML saves the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks value ranges and cross references. All problems are
// reported together, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	s := c.Simulation
	if s.StepLength <= 0 {
		add("simulation.step_length must be positive")
	}
	if s.RunTime < 0 {
		add("simulation.run_time must not be negative")
	}
	if s.RealTimeFactor < 0 {
		add("simulation.real_time_factor must not be negative")
	}

	n := c.Navigation
	if n.SafetyMargin < 0 {
		add("navigation.safety_margin must not be negative")
	}
	if n.PlannedStepsAhead < 0 {
		add("navigation.planned_steps_ahead must not be negative")
	}
	if n.EscapeWeight < 0 || n.EscapeWeight > 1 {
		add("navigation.escape_weight must be within [0, 1]")
	}

	p := c.Pedestrian
	if p.Radius <= 0 {
		add("pedestrian.radius must be positive")
	}
	if p.FreeFlowSpeed <= 0 {
		add("pedestrian.free_flow_speed must be positive")
	}
	if p.FootstepCapacity < 0 {
		add("pedestrian.footstep_capacity must not be negative")
	}
	if _, err := core.ParseNavigationKind(p.Navigation); err != nil {
		add("pedestrian.navigation: %v", err)
	}

	t := c.Topography
	if t.Bounds.Width <= 0 || t.Bounds.Height <= 0 {
		add("topography.bounds must have positive width and height")
	}
	if t.CellSize <= 0 {
		add("topography.cell_size must be positive")
	}
	targets := make(map[int]bool, len(t.Targets))
	for i, tc := range t.Targets {
		if targets[tc.ID] {
			add("topography.targets[%d]: duplicate id %d", i, tc.ID)
		}
		targets[tc.ID] = true
		if err := tc.Shape.validate(); err != nil {
			add("topography.targets[%d].shape: %v", i, err)
		}
		if tc.WaitingTime < 0 {
			add("topography.targets[%d].waiting_time must not be negative", i)
		}
	}
	checkRefs := func(field string, ids []int) {
		for _, id := range ids {
			if !targets[id] {
				add("%s: unknown target %d", field, id)
			}
		}
	}
	for i, o := range t.Obstacles {
		if err := o.Shape.validate(); err != nil {
			add("topography.obstacles[%d].shape: %v", i, err)
		}
	}
	for i, src := range t.Sources {
		if err := src.Shape.validate(); err != nil {
			add("topography.sources[%d].shape: %v", i, err)
		}
		if src.SpawnNumber < 0 || src.MaxSpawn < 0 {
			add("topography.sources[%d]: spawn counts must not be negative", i)
		}
		checkRefs(fmt.Sprintf("topography.sources[%d].targets", i), src.Targets)
	}
	for i, tc := range t.TargetChangers {
		if err := tc.Shape.validate(); err != nil {
			add("topography.target_changers[%d].shape: %v", i, err)
		}
		if tc.Probability < 0 || tc.Probability > 1 {
			add("topography.target_changers[%d].probability must be within [0, 1]", i)
		}
		checkRefs(fmt.Sprintf("topography.target_changers[%d].next_targets", i), tc.NextTargets)
	}
	for i, a := range t.AbsorbingAreas {
		if err := a.validate(); err != nil {
			add("topography.absorbing_areas[%d]: %v", i, err)
		}
	}
	seen := make(map[int]bool, len(t.Pedestrians))
	for i, ped := range t.Pedestrians {
		if seen[ped.ID] {
			add("topography.pedestrians[%d]: duplicate id %d", i, ped.ID)
		}
		seen[ped.ID] = true
		if ped.Navigation != "" {
			if _, err := core.ParseNavigationKind(ped.Navigation); err != nil {
				add("topography.pedestrians[%d].navigation: %v", i, err)
			}
		}
		checkRefs(fmt.Sprintf("topography.pedestrians[%d].targets", i), ped.Targets)
	}

	for i, st := range c.Psychology.Stimuli {
		if _, err := psychology.ParseStimulusKind(st.Kind); err != nil {
			add("psychology.stimuli[%d].kind: %v", i, err)
		}
		if st.Repeat && st.End < st.Start {
			add("psychology.stimuli[%d]: end before start", i)
		}
	}

	if c.Output.Every < 0 {
		add("output.every must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// computeDerived calculates values derived from the loaded config. It
// assumes Validate passed.
func (c *Config) computeDerived() error {
	n := c.Navigation
	c.Derived.Navigation = navigation.Config{
		SafetyMargin:                n.SafetyMargin,
		ContraFlowFilter:            n.ContraFlowFilter,
		ContraFlowAngle:             radians(n.ContraFlowAngleDeg),
		BackwardsAngle:              radians(n.BackwardsAngleDeg),
		TangentialEvasion:           n.TangentialEvasion,
		SidewaysEvasion:             n.SidewaysEvasion,
		DetourThreshold:             n.EvasionDetourThreshold,
		PlannedStepsAhead:           n.PlannedStepsAhead,
		FollowerDistance:            n.FollowerDistance,
		FollowerAngleMovement:       radians(n.FollowerAngleMovementDeg),
		FollowerAngleToTarget:       radians(n.FollowerAngleToTargetDeg),
		FollowerProximityNavigation: n.FollowerProximityNavigation,
		EscapeWeight:                n.EscapeWeight,
	}

	kind, err := core.ParseNavigationKind(c.Pedestrian.Navigation)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	p := c.Pedestrian
	c.Derived.Attributes = core.AgentAttributes{
		Radius:               p.Radius,
		FreeFlowSpeed:        p.FreeFlowSpeed,
		StepLengthIntercept:  p.StepLengthIntercept,
		StepLengthSlopeSpeed: p.StepLengthSlopeSpeed,
		StepLengthSD:         p.StepLengthSD,
		StepLengthDeviation:  p.StepLengthDeviation,
		FootstepCapacity:     p.FootstepCapacity,
		Navigation:           kind,
	}

	b := c.Topography.Bounds
	c.Derived.Bounds = core.Box{
		Min: r2.Vec{X: b.X, Y: b.Y},
		Max: r2.Vec{X: b.X + b.Width, Y: b.Y + b.Height},
	}

	c.Derived.Stimuli = c.Derived.Stimuli[:0]
	for _, st := range c.Psychology.Stimuli {
		info, err := st.Info()
		if err != nil {
			return err
		}
		c.Derived.Stimuli = append(c.Derived.Stimuli, info)
	}
	return nil
}

// Info converts the stimulus into its runtime form.
func (s StimulusConfig) Info() (psychology.StimulusInfo, error) {
	kind, err := psychology.ParseStimulusKind(s.Kind)
	if err != nil {
		return psychology.StimulusInfo{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return psychology.StimulusInfo{
		Timeframe: psychology.Timeframe{
			Start:       s.Start,
			End:         s.End,
			Repeat:      s.Repeat,
			WaitBetween: s.WaitBetween,
		},
		Stimuli: []psychology.Stimulus{{
			Kind:     kind,
			Origin:   s.Origin.Vec(),
			Radius:   s.Radius,
			Targets:  s.Targets,
			AgentIDs: s.AgentIDs,
		}},
	}, nil
}

// Vec converts the point.
func (p PointConfig) Vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// Build converts the description into a core shape.
func (s ShapeConfig) Build() (core.Shape, error) {
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(s.Type) {
	case "circle":
		return core.Circle{Center: r2.Vec{X: s.X, Y: s.Y}, Radius: s.Radius}, nil
	case "polygon":
		pts := make([]r2.Vec, len(s.Points))
		for i, p := range s.Points {
			pts[i] = p.Vec()
		}
		return core.Polygon{Points: pts}, nil
	default:
		return core.NewRectangle(s.X, s.Y, s.Width, s.Height), nil
	}
}

func (s ShapeConfig) validate() error {
	switch strings.ToLower(s.Type) {
	case "rectangle", "":
		if s.Width <= 0 || s.Height <= 0 {
			return errors.New("rectangle needs positive width and height")
		}
	case "circle":
		if s.Radius <= 0 {
			return errors.New("circle needs a positive radius")
		}
	case "polygon":
		if len(s.Points) < 3 {
			return errors.New("polygon needs at least 3 points")
		}
	default:
		return fmt.Errorf("unknown shape type %q", s.Type)
	}
	return nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
