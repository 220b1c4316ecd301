package breaker

// State is the circuit state of one operation.
type State int

const (
	StateClosed   State = iota // calls flow, outcomes are sampled
	StateOpen                  // calls fail fast
	StateHalfOpen              // one probe call is admitted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Event drives a state transition.
type Event int

const (
	EventSuccess Event = iota
	EventFailure
	// EventThresholdExceeded fires when the sampled failure ratio reaches the limit.
	EventThresholdExceeded
	// EventBreakElapsed fires once the open period is over.
	EventBreakElapsed
)

func (e Event) String() string {
	switch e {
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	case EventThresholdExceeded:
		return "threshold_exceeded"
	case EventBreakElapsed:
		return "break_elapsed"
	default:
		return "unknown"
	}
}

// Transition is the breaker state machine. It has no side effects.
func Transition(current State, event Event) State {
	switch current {
	case StateClosed:
		if event == EventThresholdExceeded {
			return StateOpen
		}
		return StateClosed
	case StateOpen:
		if event == EventBreakElapsed {
			return StateHalfOpen
		}
		return StateOpen
	case StateHalfOpen:
		switch event {
		case EventSuccess:
			return StateClosed
		case EventFailure, EventThresholdExceeded:
			return StateOpen
		}
		return StateHalfOpen
	}
	return current
}
