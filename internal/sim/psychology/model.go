package psychology

import (
	"github.com/signalsfoundry/crowd-simulator/core"
)

// Perception selects the stimulus each agent attends to.
type Perception interface {
	Update(simTime float64, agents []*core.Agent, stimuli []Stimulus) map[int]Stimulus
}

// Cognition assigns every agent a self-category from its perceived stimulus.
type Cognition interface {
	Update(simTime float64, agents []*core.Agent, perceived map[int]Stimulus)
}

// SimplePerception picks the most important applicable stimulus for every
// agent, defaulting to elapsed time. A perceived threat sets the agent's
// ThreatOrigin; any other stimulus clears it.
type SimplePerception struct{}

// Update implements Perception.
func (SimplePerception) Update(_ float64, agents []*core.Agent, stimuli []Stimulus) map[int]Stimulus {
	perceived := make(map[int]Stimulus, len(agents))
	for _, a := range agents {
		best := Stimulus{Kind: StimulusElapsedTime}
		for _, s := range stimuli {
			if s.Kind > best.Kind && s.Applies(a.ID, a.Position) {
				best = s
			}
		}
		perceived[a.ID] = best

		if best.Kind == StimulusThreat {
			origin := best.Origin
			a.ThreatOrigin = &origin
		} else {
			a.ThreatOrigin = nil
		}
	}
	return perceived
}

// SimpleCognition maps stimuli to categories: threats make agents evade,
// wait stimuli stop them, and change-target stimuli redirect them before
// they continue target-oriented. Agents that have not moved for more than
// CooperativeAfter ticks turn cooperative.
type SimpleCognition struct {
	CooperativeAfter int
}

// Update implements Cognition.
func (c SimpleCognition) Update(_ float64, agents []*core.Agent, perceived map[int]Stimulus) {
	for _, a := range agents {
		s := perceived[a.ID]
		switch s.Kind {
		case StimulusThreat:
			a.SelfCategory = core.CategoryEvade
		case StimulusWait:
			a.SelfCategory = core.CategoryWait
		case StimulusChangeTarget:
			if len(s.Targets) > 0 && !sameTargets(a, s.Targets) {
				a.SetTargets(s.Targets)
			}
			a.SelfCategory = core.CategoryTargetOriented
		default:
			if c.CooperativeAfter > 0 && a.RemainCounter > c.CooperativeAfter {
				a.SelfCategory = core.CategoryCooperative
			} else {
				a.SelfCategory = core.CategoryTargetOriented
			}
		}
	}
}

func sameTargets(a *core.Agent, targets []int) bool {
	rest := a.Targets[min(a.TargetIndex, len(a.Targets)):]
	if len(rest) != len(targets) {
		return false
	}
	for i := range rest {
		if rest[i] != targets[i] {
			return false
		}
	}
	return true
}

// Layer runs stimulus collection, perception and cognition in order.
type Layer struct {
	Queue      *StimulusQueue
	Perception Perception
	Cognition  Cognition
}

// NewLayer returns a layer with the simple models.
func NewLayer(cooperativeAfter int) *Layer {
	return &Layer{
		Queue:      NewStimulusQueue(),
		Perception: SimplePerception{},
		Cognition:  SimpleCognition{CooperativeAfter: cooperativeAfter},
	}
}

// Update consumes the stimuli active at simTime and assigns every agent its
// self-category. It returns the number of stimuli collected.
func (l *Layer) Update(simTime float64, agents []*core.Agent) int {
	stimuli := l.Queue.Collect(simTime)
	perceived := l.Perception.Update(simTime, agents, stimuli)
	l.Cognition.Update(simTime, agents, perceived)
	return len(stimuli)
}
