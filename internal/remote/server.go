package remote

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/crowd-simulator/internal/config"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/observability"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/psychology"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"gopkg.in/yaml.v3"
)

// Controller is the part of the simulation controller the remote surface
// drives. *controller.Controller implements it.
type Controller interface {
	Pause() error
	Resume() error
	NextSimCommand(untilSimTime float64) error
	StopEarly()
	AddStimulusInfo(info psychology.StimulusInfo)
	Status() controller.Status
}

// Server implements RemoteControlServer on top of a Controller.
type Server struct {
	ctrl    Controller
	log     logging.Logger
	metrics *observability.RemoteCollector
}

// NewServer constructs a Server. log and metrics may be nil.
func NewServer(ctrl Controller, log logging.Logger, metrics *observability.RemoteCollector) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{ctrl: ctrl, log: log, metrics: metrics}
}

var _ RemoteControlServer = (*Server)(nil)

// Pause suspends a free-running simulation.
func (s *Server) Pause(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.apply(ctx, "pause", s.ctrl.Pause)
}

// Resume continues a paused simulation or leaves single-step mode.
func (s *Server) Resume(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.apply(ctx, "resume", s.ctrl.Resume)
}

// Step lets a single-step simulation advance until the requested time. A
// missing or negative value advances one tick.
func (s *Server) Step(ctx context.Context, in *wrapperspb.DoubleValue) (*structpb.Struct, error) {
	until := -1.0
	if in != nil {
		until = in.GetValue()
	}
	return s.apply(ctx, "step", func() error { return s.ctrl.NextSimCommand(until) },
		logging.Float64("until", until))
}

// Status reports the controller state.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.status()
}

// StopEarly ends the run at the next tick boundary.
func (s *Server) StopEarly(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.apply(ctx, "stop_early", func() error {
		s.ctrl.StopEarly()
		return nil
	})
}

// InjectStimulus queues a stimulus described with the same fields as the
// psychology.stimuli entries of the configuration file.
func (s *Server) InjectStimulus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	info, err := StimulusFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return s.apply(ctx, "inject_stimulus", func() error {
		s.ctrl.AddStimulusInfo(info)
		return nil
	}, logging.String("kind", info.Stimuli[0].Kind.String()))
}

func (s *Server) apply(ctx context.Context, command string, fn func() error, fields ...logging.Field) (*structpb.Struct, error) {
	log := logging.FromContext(ctx, s.log).With(append(fields, logging.String("command", command))...)

	_, span := StartChildSpan(ctx, "remote."+command, attribute.String("command", command))
	defer span.End()

	if err := fn(); err != nil {
		span.RecordError(err)
		log.Warn(ctx, "remote command rejected", logging.Err(err))
		return nil, ToStatusError(err)
	}
	log.Info(ctx, "remote command applied")
	return s.status()
}

func (s *Server) status() (*structpb.Struct, error) {
	st := s.ctrl.Status()
	s.metrics.SetControlState(st.Paused, st.Waiting)
	out, err := StatusToStruct(st)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// StatusToStruct encodes st for the wire.
func StatusToStruct(st controller.Status) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"run_id":         st.RunID,
		"state":          st.State.String(),
		"sim_time":       st.SimTime,
		"step":           st.Step,
		"running":        st.Running,
		"paused":         st.Paused,
		"single_step":    st.SingleStep,
		"waiting":        st.Waiting,
		"simulate_until": st.SimulateUntil,
		"agents":         st.Agents,
	})
}

// StimulusFromStruct decodes a stimulus description. The field names follow
// config.StimulusConfig.
func StimulusFromStruct(in *structpb.Struct) (psychology.StimulusInfo, error) {
	if in == nil || len(in.GetFields()) == 0 {
		return psychology.StimulusInfo{}, fmt.Errorf("%w: empty stimulus", ErrInvalidRequest)
	}
	raw, err := yaml.Marshal(in.AsMap())
	if err != nil {
		return psychology.StimulusInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var sc config.StimulusConfig
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return psychology.StimulusInfo{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return sc.Info()
}
