package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/crowd-simulator/internal/logging"
	"github.com/signalsfoundry/crowd-simulator/internal/observability"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Event names sent to websocket clients.
const (
	EventSimStep         = "sim_step"
	EventSimulationEnd   = "simulation_end"
	EventStoppedEarly    = "simulation_stopped_early"
	EventSnapshot        = "snapshot"
	EventCommandResult   = "command_result"
	EventCommandRejected = "command_rejected"
)

const (
	defaultWriteTimeout   = 2 * time.Second
	maxSnapshotAgentsSent = 5000
)

// Hub streams controller events to websocket clients as binary
// protobuf-encoded google.protobuf.Struct messages. Clients may send the
// same encoding back with a "command" field (pause, resume, step,
// stop_early, status) and an optional "until" for step.
//
// Hub implements controller.RemoteListener and controller.SnapshotSink.
type Hub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader

	server       *Server
	log          logging.Logger
	metrics      *observability.RemoteCollector
	runID        string
	writeTimeout time.Duration
}

// NewHub constructs a Hub. server may be nil, in which case client commands
// are rejected.
func NewHub(server *Server, runID string, log logging.Logger, metrics *observability.RemoteCollector) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		server:       server,
		log:          log,
		metrics:      metrics,
		runID:        runID,
		writeTimeout: defaultWriteTimeout,
	}
}

var (
	_ controller.RemoteListener = (*Hub)(nil)
	_ controller.SnapshotSink   = (*Hub)(nil)
)

// SimStep implements controller.RemoteListener.
func (h *Hub) SimStep(simTime float64) {
	h.broadcast(EventSimStep, map[string]any{"sim_time": simTime})
}

// SimulationEnd implements controller.RemoteListener.
func (h *Hub) SimulationEnd(simTime float64) {
	h.broadcast(EventSimulationEnd, map[string]any{"sim_time": simTime})
}

// SimulationStoppedEarly implements controller.RemoteListener.
func (h *Hub) SimulationStoppedEarly(simTime float64) {
	h.broadcast(EventStoppedEarly, map[string]any{"sim_time": simTime})
}

// Consume implements controller.SnapshotSink. Snapshots are only encoded
// while at least one client is connected.
func (h *Hub) Consume(_ context.Context, s controller.Snapshot) error {
	if h.Clients() == 0 {
		return nil
	}
	n := min(len(s.Agents), maxSnapshotAgentsSent)
	agents := make([]any, 0, n)
	for _, a := range s.Agents[:n] {
		agents = append(agents, map[string]any{
			"id":       a.ID,
			"x":        a.Position.X,
			"y":        a.Position.Y,
			"vx":       a.Velocity.X,
			"vy":       a.Velocity.Y,
			"target":   a.Target,
			"category": a.Category.String(),
		})
	}
	h.broadcast(EventSnapshot, map[string]any{
		"sim_time": s.SimTime,
		"step":     s.Step,
		"count":    len(s.Agents),
		"agents":   agents,
	})
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	h.add(conn)
	defer h.remove(conn)

	if h.server != nil {
		if st, err := h.server.status(); err == nil {
			h.send(conn, EventCommandResult, map[string]any{"command": "status", "status": st.AsMap()})
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn(ctx, "event stream read error", logging.Err(err))
			}
			return
		}

		var msg structpb.Struct
		if err := proto.Unmarshal(data, &msg); err != nil {
			h.log.Warn(ctx, "unable to decode client command", logging.Err(err))
			continue
		}
		h.handleCommand(ctx, conn, &msg)
	}
}

func (h *Hub) handleCommand(ctx context.Context, conn *websocket.Conn, msg *structpb.Struct) {
	command := msg.GetFields()["command"].GetStringValue()
	if h.server == nil {
		h.send(conn, EventCommandRejected, map[string]any{"command": command, "error": "remote control disabled"})
		return
	}

	var (
		st  *structpb.Struct
		err error
	)
	switch command {
	case "pause":
		st, err = h.server.Pause(ctx, &emptypb.Empty{})
	case "resume":
		st, err = h.server.Resume(ctx, &emptypb.Empty{})
	case "step":
		until := -1.0
		if v, ok := msg.GetFields()["until"]; ok {
			until = v.GetNumberValue()
		}
		st, err = h.server.Step(ctx, wrapperspb.Double(until))
	case "stop_early":
		st, err = h.server.StopEarly(ctx, &emptypb.Empty{})
	case "status":
		st, err = h.server.Status(ctx, &emptypb.Empty{})
	default:
		h.send(conn, EventCommandRejected, map[string]any{"command": command, "error": "unknown command"})
		return
	}
	if err != nil {
		h.send(conn, EventCommandRejected, map[string]any{"command": command, "error": err.Error()})
		return
	}
	h.send(conn, EventCommandResult, map[string]any{"command": command, "status": st.AsMap()})
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
	h.metrics.SetEventClients(len(h.clients))
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.metrics.SetEventClients(len(h.clients))
}

func (h *Hub) encode(event string, fields map[string]any) ([]byte, error) {
	fields["event"] = event
	fields["run_id"] = h.runID
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

func (h *Hub) broadcast(event string, fields map[string]any) {
	payload, err := h.encode(event, fields)
	if err != nil {
		h.log.Warn(context.Background(), "failed to encode event", logging.String("event", event), logging.Err(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := h.write(conn, payload); err != nil {
			h.log.Warn(context.Background(), "failed to write to client", logging.Err(err))
			conn.Close()
			delete(h.clients, conn)
			continue
		}
		h.metrics.IncEventsSent(event)
	}
	h.metrics.SetEventClients(len(h.clients))
}

func (h *Hub) send(conn *websocket.Conn, event string, fields map[string]any) {
	payload, err := h.encode(event, fields)
	if err != nil {
		h.log.Warn(context.Background(), "failed to encode event", logging.String("event", event), logging.Err(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.write(conn, payload); err != nil {
		h.log.Warn(context.Background(), "failed to write to client", logging.Err(err))
		return
	}
	h.metrics.IncEventsSent(event)
}

// write must be called with h.mu held; gorilla connections allow one
// concurrent writer.
func (h *Hub) write(conn *websocket.Conn, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "simulation finished"),
			time.Now().Add(h.writeTimeout))
		conn.Close()
		delete(h.clients, conn)
	}
	h.metrics.SetEventClients(0)
	return nil
}
