package docbridge

// State is the synchronizer lifecycle state.
//
// Normal flow is STOPPED → STARTING → RUNNING → STOPPING → STOPPED.
// ERROR is reached from STARTING or RUNNING on a non-retryable fault and is
// terminal; there is no automatic restart.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
