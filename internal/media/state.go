package media

// State is the ingestion state of a media record.
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateIndexed    State = "INDEXED"
	StateFailed     State = "FAILED"
	StateDead       State = "DEAD"
)

// transitions is the complete set of permitted edges. Anything not listed is rejected.
var transitions = map[State][]State{
	StatePending:    {StateProcessing, StateFailed},
	StateProcessing: {StateIndexed, StateFailed},
	StateFailed:     {StatePending, StateDead},
}

// CanTransition reports whether from -> to is a permitted edge of the job state machine.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateIndexed || s == StateDead
}

// Outstanding reports whether a job for a record in state s may still make progress.
func (s State) Outstanding() bool {
	return s == StatePending || s == StateProcessing
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateIndexed, StateFailed, StateDead:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}
