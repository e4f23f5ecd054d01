package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/crowd-simulator/core"
)

// SimCollector exposes simulation-loop Prometheus metrics.
type SimCollector struct {
	gatherer prometheus.Gatherer

	TicksTotal        prometheus.Counter
	SimTime           prometheus.Gauge
	Agents            prometheus.Gauge
	QueuedAgents      prometheus.Gauge
	TickDuration      prometheus.Histogram
	NavigationActions *prometheus.CounterVec
	StimuliTotal      prometheus.Counter
}

// NewSimCollector registers simulation metrics against the provided registerer.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Number of completed global simulation ticks.",
	}), "sim_ticks_total")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_seconds",
		Help: "Current simulated time in seconds.",
	}), "sim_time_seconds")
	if err != nil {
		return nil, err
	}

	agents, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_agents",
		Help: "Current number of agents in the topography.",
	}), "sim_agents")
	if err != nil {
		return nil, err
	}

	queued, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_agents_queued",
		Help: "Current number of agents in the per-agent event queue.",
	}), "sim_agents_queued")
	if err != nil {
		return nil, err
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall-clock duration of one global simulation tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "sim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	actions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_navigation_steps_total",
		Help: "Committed agent steps, labeled by navigation action.",
	}, []string{"action"}), "sim_navigation_steps_total")
	if err != nil {
		return nil, err
	}

	stimuli, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_stimuli_total",
		Help: "Stimuli delivered to the perception layer.",
	}), "sim_stimuli_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:          gatherer,
		TicksTotal:        ticks,
		SimTime:           simTime,
		Agents:            agents,
		QueuedAgents:      queued,
		TickDuration:      tickDuration,
		NavigationActions: actions,
		StimuliTotal:      stimuli,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveStep counts one committed agent step.
func (c *SimCollector) ObserveStep(action core.Action) {
	if c == nil || c.NavigationActions == nil {
		return
	}
	c.NavigationActions.WithLabelValues(action.String()).Inc()
}

// ObserveTick records the outcome of one completed tick.
func (c *SimCollector) ObserveTick(simTime float64, agents, queued int, d time.Duration) {
	if c == nil {
		return
	}
	if c.TicksTotal != nil {
		c.TicksTotal.Inc()
	}
	if c.SimTime != nil {
		c.SimTime.Set(simTime)
	}
	if c.Agents != nil {
		c.Agents.Set(float64(agents))
	}
	if c.QueuedAgents != nil {
		c.QueuedAgents.Set(float64(queued))
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
}

// AddStimuli counts delivered stimuli.
func (c *SimCollector) AddStimuli(n int) {
	if c == nil || c.StimuliTotal == nil || n <= 0 {
		return
	}
	c.StimuliTotal.Add(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
