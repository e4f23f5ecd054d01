package scenario

import (
	"context"

	"github.com/signalsfoundry/crowd-simulator/core"
)

// Elements is the set of scenario element controllers of one run, updated in
// a fixed order: sources, targets, target changers, absorbing areas and the
// reconsider-old-target policy. The teleporter runs separately after the
// agents stepped.
type Elements struct {
	Topography *core.Topography
	Sources    []*Source
	Targets    *TargetController
	Changers   []*TargetChanger
	Absorbing  []*AbsorbingArea
	// Reconsider is nil unless the policy is enabled.
	Reconsider *ReconsiderOldTarget
	Teleporter *Teleporter
}

// Update runs every pre-navigation controller and rebuilds the spatial index
// if the topography requested it.
func (e *Elements) Update(ctx context.Context, simTime float64) error {
	for _, s := range e.Sources {
		if err := s.Update(ctx, simTime); err != nil {
			return err
		}
	}
	if e.Targets != nil {
		if err := e.Targets.Update(ctx, simTime); err != nil {
			return err
		}
	}
	for _, c := range e.Changers {
		if err := c.Update(ctx, simTime); err != nil {
			return err
		}
	}
	for _, a := range e.Absorbing {
		if err := a.Update(ctx, simTime); err != nil {
			return err
		}
	}
	if e.Reconsider != nil {
		if _, err := e.Reconsider.Update(ctx, simTime); err != nil {
			return err
		}
	}
	if e.Topography != nil {
		e.Topography.RecomputeCellsIfFlagged()
	}
	return nil
}

// UpdateTeleporter runs the teleporter, if any.
func (e *Elements) UpdateTeleporter(ctx context.Context, simTime float64) error {
	if e.Teleporter == nil {
		return nil
	}
	_, err := e.Teleporter.Update(ctx, simTime)
	return err
}

// SourcesExhausted reports whether no source will spawn again.
func (e *Elements) SourcesExhausted() bool {
	for _, s := range e.Sources {
		if !s.Exhausted() {
			return false
		}
	}
	return true
}
