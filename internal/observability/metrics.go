package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RemoteCollector bundles Prometheus metrics for the remote-control surface
// and provides helpers to wire them into gRPC servers and HTTP handlers.
type RemoteCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	EventClients   prometheus.Gauge
	EventsSent     *prometheus.CounterVec
	ControlPaused  prometheus.Gauge
	ControlWaiting prometheus.Gauge
}

// NewRemoteCollector registers remote-control Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewRemoteCollector(reg prometheus.Registerer) (*RemoteCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_requests_total",
		Help: "Total number of handled remote-control RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "remote_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remote_request_duration_seconds",
		Help:    "Remote-control RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "remote_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remote_event_clients",
		Help: "Current number of connected websocket event subscribers.",
	}), "remote_event_clients")
	if err != nil {
		return nil, err
	}

	sent, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_events_sent_total",
		Help: "Simulation events broadcast to websocket subscribers, labeled by event type.",
	}, []string{"event"}), "remote_events_sent_total")
	if err != nil {
		return nil, err
	}

	paused, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remote_control_paused",
		Help: "1 while the simulation is paused by a remote controller.",
	}), "remote_control_paused")
	if err != nil {
		return nil, err
	}
	waiting, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "remote_control_waiting",
		Help: "1 while the simulation blocks waiting for a single-step command.",
	}), "remote_control_waiting")
	if err != nil {
		return nil, err
	}

	return &RemoteCollector{
		gatherer:       gatherer,
		RPCRequests:    requests,
		RPCDurations:   durations,
		EventClients:   clients,
		EventsSent:     sent,
		ControlPaused:  paused,
		ControlWaiting: waiting,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *RemoteCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RemoteCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetEventClients records the number of websocket subscribers.
func (c *RemoteCollector) SetEventClients(n int) {
	if c == nil || c.EventClients == nil {
		return
	}
	c.EventClients.Set(float64(n))
}

// IncEventsSent counts one broadcast event.
func (c *RemoteCollector) IncEventsSent(event string) {
	if c == nil || c.EventsSent == nil {
		return
	}
	c.EventsSent.WithLabelValues(event).Inc()
}

// SetControlState mirrors the controller's paused and waiting flags.
func (c *RemoteCollector) SetControlState(paused, waiting bool) {
	if c == nil {
		return
	}
	if c.ControlPaused != nil {
		c.ControlPaused.Set(boolGauge(paused))
	}
	if c.ControlWaiting != nil {
		c.ControlWaiting.Set(boolGauge(waiting))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
