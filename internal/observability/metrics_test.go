package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/signalsfoundry/crowd-simulator/core"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRemoteCollector(reg)
	if err != nil {
		t.Fatalf("NewRemoteCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/crowdsim.remote.v1.RemoteControl/Pause"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("RemoteControl", "Pause", "OK")); got != 1 {
		t.Fatalf("remote_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "remote_request_duration_seconds", map[string]string{
		"service": "RemoteControl",
		"method":  "Pause",
	}); count != 1 {
		t.Fatalf("remote_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRemoteCollector(reg)
	if err != nil {
		t.Fatalf("NewRemoteCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/crowdsim.remote.v1.RemoteControl/Step"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.FailedPrecondition, "not paused")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("RemoteControl", "Step", "FailedPrecondition")); got != 1 {
		t.Fatalf("remote_requests_total error label = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesRemoteGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRemoteCollector(reg)
	if err != nil {
		t.Fatalf("NewRemoteCollector: %v", err)
	}
	collector.SetEventClients(3)
	collector.IncEventsSent("sim_step")
	collector.SetControlState(true, false)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"remote_requests_total",
		"remote_request_duration_seconds",
		"remote_event_clients 3",
		`remote_events_sent_total{event="sim_step"} 1`,
		"remote_control_paused 1",
		"remote_control_waiting 0",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestRemoteCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRemoteCollector(reg)
	if err != nil {
		t.Fatalf("NewRemoteCollector: %v", err)
	}
	second, err := NewRemoteCollector(reg)
	if err != nil {
		t.Fatalf("second NewRemoteCollector: %v", err)
	}

	first.IncEventsSent("simulation_end")
	if got := testutil.ToFloat64(second.EventsSent.WithLabelValues("simulation_end")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestNilRemoteCollectorIsSafe(t *testing.T) {
	var c *RemoteCollector
	c.SetEventClients(1)
	c.IncEventsSent("x")
	c.SetControlState(true, true)
}

func TestSimCollectorObservesTicksAndSteps(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObserveStep(core.ActionDirectStep)
	collector.ObserveStep(core.ActionDirectStep)
	collector.ObserveStep(core.ActionTangentialEvasion)
	collector.ObserveTick(1.6, 12, 10, 3*time.Millisecond)
	collector.ObserveTick(2.0, 11, 11, time.Millisecond)
	collector.AddStimuli(2)
	collector.AddStimuli(0)

	if got := testutil.ToFloat64(collector.TicksTotal); got != 2 {
		t.Fatalf("sim_ticks_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.SimTime); got != 2.0 {
		t.Fatalf("sim_time_seconds = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Agents); got != 11 {
		t.Fatalf("sim_agents = %v, want 11", got)
	}
	if got := testutil.ToFloat64(collector.NavigationActions.WithLabelValues(core.ActionDirectStep.String())); got != 2 {
		t.Fatalf("direct steps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.NavigationActions.WithLabelValues(core.ActionTangentialEvasion.String())); got != 1 {
		t.Fatalf("tangential evasions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.StimuliTotal); got != 2 {
		t.Fatalf("sim_stimuli_total = %v, want 2", got)
	}
	if count := histogramSampleCount(t, collector.Gatherer(), "sim_tick_duration_seconds", nil); count != 2 {
		t.Fatalf("sim_tick_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestNilSimCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.ObserveStep(core.ActionHold)
	c.ObserveTick(1, 1, 1, time.Millisecond)
	c.AddStimuli(1)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector must not expose a gatherer")
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "TRUE")
	t.Setenv("SIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ServiceName != "crowd-simulator" {
		t.Fatalf("ServiceName = %q, want default", cfg.ServiceName)
	}

	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio = %v, want default 1", got)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if _, err := newExporter(context.Background(), TracingConfig{Exporter: "zipkin"}); err == nil {
		t.Fatalf("expected unsupported exporter error")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
