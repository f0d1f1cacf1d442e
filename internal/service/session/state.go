package session

// State is a session's position in the connect/authenticate lifecycle.
type State int

const (
	// StateUninitialized: a protocol handle exists (or is being created)
	// but no lifecycle event has been observed yet.
	StateUninitialized State = iota
	// StateAwaitingPairing: a pairing challenge has been issued and the
	// session waits for the user to scan it.
	StateAwaitingPairing
	// StateConnected: authenticated and ready to send.
	StateConnected
	// StateDisconnectedRetry: the connection dropped unexpectedly; a
	// reconnect is in progress.
	StateDisconnectedRetry
	// StateLoggedOut: the account was unlinked. Terminal; a later Ensure
	// for the same id starts from scratch.
	StateLoggedOut
	// StateExhausted: reconnecting gave up after the configured ceiling.
	// Terminal until the next Ensure.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingPairing:
		return "awaiting-pairing"
	case StateConnected:
		return "connected"
	case StateDisconnectedRetry:
		return "disconnected-retry"
	case StateLoggedOut:
		return "logged-out"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
