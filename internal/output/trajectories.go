// Package output writes simulation snapshots to CSV.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/signalsfoundry/crowd-simulator/internal/sim/controller"
)

// TrajectoryRecord is one agent at one tick.
type TrajectoryRecord struct {
	SimTime  float64 `csv:"sim_time"`
	Step     int     `csv:"step"`
	AgentID  int     `csv:"agent_id"`
	X        float64 `csv:"x"`
	Y        float64 `csv:"y"`
	VX       float64 `csv:"vx"`
	VY       float64 `csv:"vy"`
	Target   int     `csv:"target_id"`
	Category string  `csv:"self_category"`
	Action   string  `csv:"action"`
}

// TrajectoryWriter is a controller.SnapshotSink that appends every n-th
// snapshot to a CSV stream.
type TrajectoryWriter struct {
	out           io.Writer
	file          *os.File
	every         int
	headerWritten bool
	rows          int
}

// NewTrajectoryWriter writes to w. every <= 1 writes every snapshot.
func NewTrajectoryWriter(w io.Writer, every int) *TrajectoryWriter {
	return &TrajectoryWriter{out: w, every: max(every, 1)}
}

// NewTrajectoryFile creates path, including missing parent directories.
// Returns nil if path is empty (output disabled).
func NewTrajectoryFile(path string, every int) (*TrajectoryWriter, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	w := NewTrajectoryWriter(f, every)
	w.file = f
	return w, nil
}

// Consume implements controller.SnapshotSink.
func (w *TrajectoryWriter) Consume(_ context.Context, s controller.Snapshot) error {
	if w == nil || s.Step%w.every != 0 || len(s.Agents) == 0 {
		return nil
	}

	records := make([]TrajectoryRecord, 0, len(s.Agents))
	for _, a := range s.Agents {
		records = append(records, TrajectoryRecord{
			SimTime:  s.SimTime,
			Step:     s.Step,
			AgentID:  a.ID,
			X:        a.Position.X,
			Y:        a.Position.Y,
			VX:       a.Velocity.X,
			VY:       a.Velocity.Y,
			Target:   a.Target,
			Category: a.Category.String(),
			Action:   a.Action.String(),
		})
	}

	if !w.headerWritten {
		if err := gocsv.Marshal(records, w.out); err != nil {
			return fmt.Errorf("writing trajectories: %w", err)
		}
		w.headerWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, w.out); err != nil {
			return fmt.Errorf("writing trajectories: %w", err)
		}
	}
	w.rows += len(records)
	return nil
}

// Rows returns the number of records written.
func (w *TrajectoryWriter) Rows() int {
	if w == nil {
		return 0
	}
	return w.rows
}

// Close closes the file opened by NewTrajectoryFile.
func (w *TrajectoryWriter) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
