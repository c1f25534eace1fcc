package types

// State represents the stream consumer lifecycle state.
//
// States follow a defined progression during normal operation:
//
//	StateInit → StateRunning ⇄ StateDisabled
//
// StateBackoff is entered on transient fetch failures and left on the next
// successful pull. StateFatal and StateStopped are terminal.
type State int

const (
	// StateInit is the initial state before the pull loop starts.
	StateInit State = iota

	// StateRunning indicates the binding is enabled and batches are being pulled.
	StateRunning

	// StateDisabled indicates the binding is disabled; intake is paused.
	StateDisabled

	// StateBackoff indicates the consumer is waiting after a transient failure.
	StateBackoff

	// StateFatal indicates a configuration error stopped the consumer.
	StateFatal

	// StateStopped indicates graceful shutdown completed.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRunning:
		return "Running"
	case StateDisabled:
		return "Disabled"
	case StateBackoff:
		return "Backoff"
	case StateFatal:
		return "Fatal"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
