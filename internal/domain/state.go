package domain

type LifecycleState int

const (
	StateIdle LifecycleState = iota
	StateAwaitingCredential
	StateJoining
	StateActive
	StateClosed
)

func (s LifecycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PreJoinVisible reports whether the pre-join screen is shown in state s.
func (s LifecycleState) PreJoinVisible() bool {
	return s != StateJoining && s != StateActive
}
