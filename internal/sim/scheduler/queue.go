package scheduler

import "github.com/signalsfoundry/crowd-simulator/core"

// agentQueue is a container/heap of agents ordered by TimeOfNextStep, ties
// broken by ascending agent id. Agents keep their heap index so that removal
// is O(log n).
type agentQueue []*core.Agent

func (q agentQueue) Len() int { return len(q) }

func (q agentQueue) Less(i, j int) bool {
	if q[i].TimeOfNextStep != q[j].TimeOfNextStep {
		return q[i].TimeOfNextStep < q[j].TimeOfNextStep
	}
	return q[i].ID < q[j].ID
}

func (q agentQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].SetQueueIndex(i)
	q[j].SetQueueIndex(j)
}

func (q *agentQueue) Push(x any) {
	a := x.(*core.Agent)
	a.SetQueueIndex(len(*q))
	*q = append(*q, a)
}

func (q *agentQueue) Pop() any {
	old := *q
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.SetQueueIndex(-1)
	*q = old[:n-1]
	return a
}
