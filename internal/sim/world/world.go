// Package world assembles a runnable simulation from configuration: the
// topography with its obstacles, targets and initial pedestrians, the
// scenario element controllers, the psychology layer, the per-agent
// scheduler and the controller that drives them.
package world

import (
	"fmt"

	"github.com/signalsfoundry/crowd-simulator/core"
	"github.com/signalsfoundry/crowd-simulator/internal/config"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/navigation"
	"github.com/signalsfoundry/crowd-simulator/internal/observability"
	"github.com/signalsfoundry/crowd-simulator/internal/rng"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/psychology"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/scenario"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/scheduler"
	"github.com/signalsfoundry/crowd-simulator/timectrl"
)

// World is one assembled simulation.
type World struct {
	Config     *config.Config
	Topography *core.Topography
	Scheduler  *scheduler.Scheduler
	Elements   *scenario.Elements
	Psychology *psychology.Layer
	Clock      *timectrl.SimClock
	Controller *controller.Controller
	Rand       *rng.Source
}

type options struct {
	log        logging.Logger
	metrics    *observability.SimCollector
	controller []controller.Option
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics wires the simulation collector into the scheduler and the
// controller.
func WithMetrics(m *observability.SimCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithControllerOptions appends controller options applied after the ones
// derived from configuration.
func WithControllerOptions(opts ...controller.Option) Option {
	return func(o *options) { o.controller = append(o.controller, opts...) }
}

// Build creates the world described by cfg.
func Build(cfg *config.Config, opts ...Option) (*World, error) {
	o := options{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log

	topo := core.NewTopography(cfg.Derived.Bounds, cfg.Topography.CellSize)
	for _, oc := range cfg.Topography.Obstacles {
		shape, err := oc.Shape.Build()
		if err != nil {
			return nil, fmt.Errorf("obstacle %d: %w", oc.ID, err)
		}
		topo.AddObstacle(core.Obstacle{ID: oc.ID, Shape: shape})
	}
	for _, tc := range cfg.Topography.Targets {
		shape, err := tc.Shape.Build()
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", tc.ID, err)
		}
		topo.AddTarget(&core.Target{
			ID:          tc.ID,
			Shape:       shape,
			Absorbing:   tc.Absorbing,
			WaitingTime: tc.WaitingTime,
		})
	}

	src := rng.NewSource(cfg.Simulation.Seed)
	env := navigation.Environment{
		Index:     topo,
		Direction: navigation.EuclideanDirection{Targets: topo},
		Rand:      src,
		Logger:    log.With(logging.Component("navigation")),
	}
	schedOpts := []scheduler.Option{scheduler.WithLogger(log.With(logging.Component("scheduler")))}
	if o.metrics != nil {
		schedOpts = append(schedOpts, scheduler.WithRecorder(o.metrics))
	}
	sched := scheduler.New(topo, navigation.NewDispatcher(env, cfg.Derived.Navigation), schedOpts...)
	topo.AddListener(sched)

	elements, err := buildElements(cfg, topo, src, log)
	if err != nil {
		return nil, err
	}
	if err := placePedestrians(cfg, topo, src); err != nil {
		return nil, err
	}

	psych := psychology.NewLayer(cfg.Psychology.CooperativeAfterTicks)
	for _, info := range cfg.Derived.Stimuli {
		psych.Queue.Add(info)
	}

	s := cfg.Simulation
	clock := timectrl.NewSimClock(s.StartTime, s.StepLength, s.RunTime)
	ctrlOpts := append([]controller.Option{
		controller.WithElements(elements),
		controller.WithPsychology(psych),
		controller.WithLogger(log.With(logging.Component("controller"))),
		controller.WithMetrics(o.metrics),
		controller.WithSingleStep(s.SingleStep),
		controller.WithRealTimeFactor(s.RealTimeFactor),
		controller.WithFinishWhenEmpty(s.FinishWhenEmpty),
		controller.WithInvariantChecks(cfg.Debug.CheckInvariants),
	}, o.controller...)

	return &World{
		Config:     cfg,
		Topography: topo,
		Scheduler:  sched,
		Elements:   elements,
		Psychology: psych,
		Clock:      clock,
		Controller: controller.New(clock, topo, sched, ctrlOpts...),
		Rand:       src,
	}, nil
}

func buildElements(cfg *config.Config, topo *core.Topography, src *rng.Source, log logging.Logger) (*scenario.Elements, error) {
	t := cfg.Topography
	e := &scenario.Elements{
		Topography: topo,
		Targets:    scenario.NewTargetController(topo),
	}

	for _, sc := range t.Sources {
		shape, err := sc.Shape.Build()
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", sc.ID, err)
		}
		e.Sources = append(e.Sources, scenario.NewSource(scenario.SourceConfig{
			ID:          sc.ID,
			Shape:       shape,
			StartTime:   sc.StartTime,
			EndTime:     sc.EndTime,
			Interval:    sc.Interval,
			SpawnNumber: sc.SpawnNumber,
			MaxSpawn:    sc.MaxSpawn,
			Targets:     sc.Targets,
			Attributes:  cfg.Derived.Attributes,
		}, topo, src.Stream(fmt.Sprintf("source-%d", sc.ID)), log))
	}

	for i, cc := range t.TargetChangers {
		shape, err := cc.Shape.Build()
		if err != nil {
			return nil, fmt.Errorf("target changer %d: %w", i, err)
		}
		e.Changers = append(e.Changers, scenario.NewTargetChanger(
			shape, cc.NextTargets, cc.Probability, topo, src.Stream(fmt.Sprintf("target-changer-%d", i)),
		))
	}

	for i, ac := range t.AbsorbingAreas {
		shape, err := ac.Build()
		if err != nil {
			return nil, fmt.Errorf("absorbing area %d: %w", i, err)
		}
		e.Absorbing = append(e.Absorbing, scenario.NewAbsorbingArea(shape, topo))
	}

	if t.Teleporter != nil {
		e.Teleporter = scenario.NewTeleporter(t.Teleporter.Position.Vec(), t.Teleporter.Shift.Vec(), topo)
	}
	if cfg.Simulation.ReconsiderOldTargets {
		r := t.Reconsider
		e.Reconsider = scenario.NewReconsiderOldTarget(r.StuckTicks, r.ThresholdX, r.ThresholdY, topo)
	}
	return e, nil
}

func placePedestrians(cfg *config.Config, topo *core.Topography, src *rng.Source) error {
	rnd := src.Stream("pedestrians")
	for _, pc := range cfg.Topography.Pedestrians {
		attrs := cfg.Derived.Attributes
		if pc.Navigation != "" {
			kind, err := core.ParseNavigationKind(pc.Navigation)
			if err != nil {
				return fmt.Errorf("pedestrian %d: %w", pc.ID, err)
			}
			attrs.Navigation = kind
		}
		a := core.NewAgent(pc.ID, pc.Position.Vec(), attrs, rnd)
		a.SetTargets(pc.Targets)
		a.TimeOfNextStep = cfg.Simulation.StartTime
		if err := topo.AddAgent(a); err != nil {
			return fmt.Errorf("pedestrian %d: %w", pc.ID, err)
		}
	}
	return nil
}
