package server

// State is the position of a connection in its request cycle.
type State int32

const (
	// StateIdle waits for the first byte of a request.
	StateIdle State = iota
	// StateReading accumulates a request head.
	StateReading
	// StateDispatching runs admission, rules and target resolution.
	StateDispatching
	// StateAwaitingSandbox has handed the socket to a worker. The
	// connection neither reads nor writes until the worker is gone.
	StateAwaitingSandbox
	// StateResponding writes a response produced by the front end.
	StateResponding
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateAwaitingSandbox:
		return "awaiting_sandbox"
	case StateResponding:
		return "responding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the states reachable from each state. Any state may
// move to StateClosed.
var transitions = map[State][]State{
	StateIdle:            {StateReading},
	StateReading:         {StateDispatching, StateResponding},
	StateDispatching:     {StateResponding, StateAwaitingSandbox},
	StateAwaitingSandbox: {StateIdle},
	StateResponding:      {StateIdle},
}

// canTransition reports whether from may move to to.
func canTransition(from, to State) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
