package pipeline

import "fmt"

// State identifies a stage of an adjudication run.
type State string

const (
	StateIdle         State = "idle"
	StateCapturing    State = "capturing_evidence"
	StateCompressing  State = "compressing_evidence"
	StateAdjudicating State = "adjudicating"
	StateParsing      State = "parsing_outcome"
	StateSettling     State = "settling"
	StateSettled      State = "settled"
	StateFailed       State = "failed"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateSettled, StateFailed:
		return true
	default:
		return false
	}
}

// isAllowedTransition encodes the run lifecycle. Parsing may loop back
// to adjudicating exactly once; the run tracks that separately.
func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateCapturing
	case StateCapturing:
		return to == StateCompressing || to == StateFailed
	case StateCompressing:
		return to == StateAdjudicating || to == StateFailed
	case StateAdjudicating:
		return to == StateParsing || to == StateFailed
	case StateParsing:
		return to == StateSettling || to == StateSettled || to == StateAdjudicating || to == StateFailed
	case StateSettling:
		return to == StateSettled || to == StateFailed
	default:
		return false
	}
}

// run tracks the state of a single adjudication run.
type run struct {
	id      string
	state   State
	retried bool
}

// advance performs a validated transition, rejecting moves the
// lifecycle does not allow. The single permitted re-adjudication is
// consumed on the parsing to adjudicating edge.
func (r *run) advance(to State) error {
	if !isAllowedTransition(r.state, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", r.state, to)
	}
	if r.state == StateParsing && to == StateAdjudicating {
		if r.retried {
			return fmt.Errorf("re-adjudication already consumed")
		}
		r.retried = true
	}
	r.state = to
	return nil
}
