package node

import "errors"

// Control-plane error taxonomy (§7). Data-plane errors (ElementCommandFailed,
// BufferForwardFailed) are logged at the point of occurrence and never
// returned to a caller, per §7's propagation policy.
var (
	// ErrNoPortAvailable is returned from Link when either endpoint has
	// neither a free port nor an existing port to fall back to.
	ErrNoPortAvailable = errors.New("node: no port available")
	// ErrInvalidTransition is returned by SetState for an unrecognized
	// target state.
	ErrInvalidTransition = errors.New("node: invalid state transition")
	// ErrNotFound is returned when a link or port lookup fails.
	ErrNotFound = errors.New("node: not found")
	// ErrPollSetFull is returned by PollSet.Add when the configured
	// capacity is already in use.
	ErrPollSetFull = errors.New("node: poll set at capacity")
)
