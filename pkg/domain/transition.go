package domain

// transitions is the legal-transition table. Terminal states map to an empty set.
//
// PRODUCT_ADDED -> COMMITTED is intentional: target configuration is optional and
// the commit supplies DefaultTargetConfig when it was skipped.
var transitions = map[SessionState][]SessionState{
	StateInitiated:        {StateProductAdded, StateFailed, StateExpired},
	StateProductAdded:     {StateTargetConfigured, StateCommitted, StateFailed, StateExpired},
	StateTargetConfigured: {StateCommitted, StateFailed, StateExpired},
	StateCommitted:        {StateCompleted, StateFailed},
	StateCompleted:        {},
	StateFailed:           {},
	StateExpired:          {},
}

// IsValidTransition reports whether a session may move from one state to another.
// It is consulted before every state change.
func IsValidTransition(from, to SessionState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the states reachable from s in one step.
func AllowedTransitions(from SessionState) []SessionState {
	allowed := transitions[from]
	out := make([]SessionState, len(allowed))
	copy(out, allowed)
	return out
}
