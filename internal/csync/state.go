package csync

// State is the position of a run in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateConfiguring
	StateUpdating
	StateWalking
	StateReconciling
	StatePropagating
	StateDone
	StateLocalOnlyDone
	StateFailed
)

var stateNames = map[State]string{
	StateCreated:       "created",
	StateConfiguring:   "configuring",
	StateUpdating:      "updating",
	StateWalking:       "walking",
	StateReconciling:   "reconciling",
	StatePropagating:   "propagating",
	StateDone:          "done",
	StateLocalOnlyDone: "local_only_done",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) IsTerminal() bool {
	return s == StateDone || s == StateLocalOnlyDone || s == StateFailed
}

// canAdvance reports whether a run may move from s to next. Failed is
// reachable from every non-terminal state, the rest only move forward.
func (s State) canAdvance(next State) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	switch s {
	case StateCreated:
		return next == StateConfiguring
	case StateConfiguring:
		return next == StateUpdating
	case StateUpdating:
		return next == StateWalking
	case StateWalking:
		return next == StateLocalOnlyDone || next == StateReconciling
	case StateReconciling:
		return next == StatePropagating
	case StatePropagating:
		return next == StateDone
	}
	return false
}
