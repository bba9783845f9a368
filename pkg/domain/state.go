package domain

// SessionState is the workflow position of a session.
type SessionState string

const (
	StateInitiated        SessionState = "INITIATED"
	StateProductAdded     SessionState = "PRODUCT_ADDED"
	StateTargetConfigured SessionState = "TARGET_CONFIGURED"
	StateCommitted        SessionState = "COMMITTED"
	StateCompleted        SessionState = "COMPLETED"
	StateFailed           SessionState = "FAILED"
	StateExpired          SessionState = "EXPIRED"
)

// AllStates lists every state in workflow order.
var AllStates = []SessionState{
	StateInitiated,
	StateProductAdded,
	StateTargetConfigured,
	StateCommitted,
	StateCompleted,
	StateFailed,
	StateExpired,
}

// IsTerminal reports whether no transition leaves the state.
func (s SessionState) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsKnown reports whether s is one of the defined states.
func (s SessionState) IsKnown() bool {
	_, ok := transitions[s]
	return ok
}

// IsCommittable reports whether a commit may start from s.
func (s SessionState) IsCommittable() bool {
	return s == StateProductAdded || s == StateTargetConfigured
}

func (s SessionState) String() string {
	return string(s)
}
