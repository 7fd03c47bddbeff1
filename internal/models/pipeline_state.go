package models

// PipelineState is the orchestrator's per-comment state machine position.
//
// received -> classifying -> classified -> [answering -> answered] ->
// dispatching -> dispatched, with deferred as a transient re-entry point into
// classifying/answering and failed terminal from any active state.
type PipelineState string

const (
	StateReceived    PipelineState = "received"
	StateClassifying PipelineState = "classifying"
	StateClassified  PipelineState = "classified"
	StateAnswering   PipelineState = "answering"
	StateAnswered    PipelineState = "answered"
	StateDispatching PipelineState = "dispatching"
	StateDispatched  PipelineState = "dispatched"
	StateDeferred    PipelineState = "deferred"
	StateFailed      PipelineState = "failed"
)

// stateTransitions is the closed set of legal moves. The orchestrator refuses
// anything else, which is what makes redelivered tasks safe: a task for a
// state already passed cannot transition backwards.
var stateTransitions = map[PipelineState][]PipelineState{
	StateReceived:    {StateClassifying, StateFailed},
	StateClassifying: {StateClassified, StateDeferred, StateFailed},
	StateClassified:  {StateAnswering, StateDispatched, StateFailed},
	StateAnswering:   {StateAnswered, StateDeferred, StateFailed},
	StateAnswered:    {StateDispatching, StateFailed},
	StateDispatching: {StateDispatched, StateFailed},
	StateDispatched:  {},
	StateDeferred:    {StateClassifying, StateAnswering, StateFailed},
	StateFailed:      {},
}

// CanTransition reports whether moving from -> to is legal.
func (s PipelineState) CanTransition(to PipelineState) bool {
	for _, next := range stateTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state machine has finished for this comment.
func (s PipelineState) IsTerminal() bool {
	return s == StateDispatched || s == StateFailed
}

// Ordinal gives the forward progress of a state for resume short-circuiting.
// Deferred and failed are not forward positions.
func (s PipelineState) Ordinal() int {
	switch s {
	case StateReceived:
		return 0
	case StateClassifying:
		return 1
	case StateClassified:
		return 2
	case StateAnswering:
		return 3
	case StateAnswered:
		return 4
	case StateDispatching:
		return 5
	case StateDispatched:
		return 6
	default:
		return -1
	}
}
