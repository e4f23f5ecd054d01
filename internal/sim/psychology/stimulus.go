// Package psychology turns injected stimuli into per-agent self-categories.
// Each tick the controller collects the active stimuli, lets the perception
// model pick the most important stimulus per agent and hands the result to
// the cognition model, which assigns every agent its self-category.
package psychology

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"
)

// StimulusKind classifies a stimulus. Higher values are more important.
type StimulusKind int

const (
	StimulusElapsedTime StimulusKind = iota
	StimulusWait
	StimulusChangeTarget
	StimulusThreat
)

func (k StimulusKind) String() string {
	switch k {
	case StimulusElapsedTime:
		return "elapsed_time"
	case StimulusWait:
		return "wait"
	case StimulusChangeTarget:
		return "change_target"
	case StimulusThreat:
		return "threat"
	default:
		return fmt.Sprintf("StimulusKind(%d)", int(k))
	}
}

// ParseStimulusKind is the inverse of StimulusKind.String.
func ParseStimulusKind(s string) (StimulusKind, error) {
	for _, k := range []StimulusKind{StimulusElapsedTime, StimulusWait, StimulusChangeTarget, StimulusThreat} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown stimulus kind %q", s)
}

// Stimulus is one instruction for the perception layer. A positive Radius
// makes it spatial: only agents within Radius of Origin perceive it.
// AgentIDs, when set, restricts it to those agents.
type Stimulus struct {
	Kind     StimulusKind
	Origin   r2.Vec
	Radius   float64
	Targets  []int
	AgentIDs []int
}

// Applies reports whether an agent with id at pos perceives s.
func (s Stimulus) Applies(id int, pos r2.Vec) bool {
	if len(s.AgentIDs) > 0 {
		found := false
		for _, a := range s.AgentIDs {
			if a == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.Radius > 0 {
		return r2.Norm(r2.Sub(pos, s.Origin)) <= s.Radius
	}
	return true
}

// Timeframe says when stimuli are active. Without Repeat the stimuli fire
// once, at the first tick at or after Start, and are then consumed. With
// Repeat they are active during [Start, End] and again every
// End-Start+WaitBetween seconds.
type Timeframe struct {
	Start       float64
	End         float64
	Repeat      bool
	WaitBetween float64
}

// Active reports whether a repeating timeframe covers simTime.
func (tf Timeframe) Active(simTime float64) bool {
	if simTime < tf.Start {
		return false
	}
	length := tf.End - tf.Start
	if length < 0 {
		return false
	}
	if !tf.Repeat {
		return simTime <= tf.End
	}
	period := length + tf.WaitBetween
	if period <= 0 {
		return true
	}
	return math.Mod(simTime-tf.Start, period) <= length
}

// StimulusInfo couples stimuli with their timeframe.
type StimulusInfo struct {
	Timeframe Timeframe
	Stimuli   []Stimulus
}

// StimulusQueue collects injected stimulus infos. Add may be called from any
// goroutine; Collect is called by the simulation goroutine.
type StimulusQueue struct {
	mu      sync.Mutex
	pending []StimulusInfo
}

// NewStimulusQueue returns an empty queue.
func NewStimulusQueue() *StimulusQueue {
	return &StimulusQueue{}
}

// Add queues info for the next psychology phase.
func (q *StimulusQueue) Add(info StimulusInfo) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, info)
}

// Len returns the number of queued infos.
func (q *StimulusQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Collect returns the stimuli active at simTime. One-time infos are consumed
// by the first Collect at or after their start; recurring infos stay queued.
func (q *StimulusQueue) Collect(simTime float64) []Stimulus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var active []Stimulus
	kept := q.pending[:0]
	for _, info := range q.pending {
		tf := info.Timeframe
		switch {
		case tf.Repeat:
			if tf.Active(simTime) {
				active = append(active, info.Stimuli...)
			}
			kept = append(kept, info)
		case simTime >= tf.Start:
			active = append(active, info.Stimuli...)
		default:
			kept = append(kept, info)
		}
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = StimulusInfo{}
	}
	q.pending = kept
	return active
}
