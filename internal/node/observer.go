package node

import (
	"fmt"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
)

// Lifecycle is the externally-driven node state machine (§3, §4.6),
// distinct from the underlying element's own spa.NodeState.
type Lifecycle int

const (
	LifecycleSuspended Lifecycle = iota
	LifecycleInitializing
	LifecycleIdle
	LifecycleRunning
	LifecycleError
)

func (s Lifecycle) String() string {
	switch s {
	case LifecycleSuspended:
		return "suspended"
	case LifecycleInitializing:
		return "initializing"
	case LifecycleIdle:
		return "idle"
	case LifecycleRunning:
		return "running"
	case LifecycleError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Observer receives the notifications a Node publishes (§4.7). Methods are
// called synchronously on whichever goroutine delivered the element event
// or made the state transition, which can be the Worker or an element's
// own goroutine; there is no queue or channel between the Node and the
// Observer. Implementations must not block.
type Observer interface {
	OnPortAdded(handle string, direction spa.Direction, portID uint32)
	OnPortRemoved(handle string, portID uint32)
	OnStateChanged(handle string, state Lifecycle)
	OnRemove(handle string)
}
