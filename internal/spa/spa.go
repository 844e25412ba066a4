// Package spa defines the capability contracts the node runtime consumes
// from an underlying media element: port enumeration, command dispatch,
// event delivery, buffer push/pull, and clock access. Concrete elements
// (SPA plug-ins, in the terms of the system this package's names are
// borrowed from) are supplied externally; this package only fixes the
// shape of the contract.
package spa

import "fmt"

// Direction is a port direction.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// InvalidPortID is returned by free-port allocation when a direction is
// saturated.
const InvalidPortID uint32 = 0xffffffff

// NodeState mirrors the element's own state machine (distinct from the
// node runtime's externally-driven lifecycle state).
type NodeState int

const (
	NodeStateInit NodeState = iota
	NodeStateConfigure
	NodeStatePaused
	NodeStateStreaming
	NodeStateError
)

func (s NodeState) String() string {
	switch s {
	case NodeStateInit:
		return "init"
	case NodeStateConfigure:
		return "configure"
	case NodeStatePaused:
		return "paused"
	case NodeStateStreaming:
		return "streaming"
	case NodeStateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CommandType enumerates the commands the node runtime may send to an
// element via SendCommand.
type CommandType int

const (
	CommandPause CommandType = iota
	CommandStart
	CommandClockUpdate
)

// ClockUpdateFlags carries the change mask / live flag for a ClockUpdate
// command.
type ClockUpdateFlags uint32

const (
	ClockUpdateFlagLive ClockUpdateFlags = 1 << iota
)

// ClockUpdateChangeMask enumerates which fields of a ClockUpdate command
// are meaningful; the node runtime always sets all of them (time, scale,
// state, latency), matching the source's send_clock_update.
const ClockUpdateChangeMask = 1<<0 | 1<<1 | 1<<2 | 1<<3

// ClockUpdate is the payload of a CommandClockUpdate command.
type ClockUpdate struct {
	Rate          uint32
	Ticks         uint64
	MonotonicTime int64
	Scale         uint32
	State         NodeState
	Flags         ClockUpdateFlags
	ChangeMask    uint32
}

// Command is sent to an element via Element.SendCommand.
type Command struct {
	Type        CommandType
	ClockUpdate ClockUpdate // valid when Type == CommandClockUpdate
}

// EventType enumerates the asynchronous events an element delivers to the
// node runtime through the callback installed by SetEventCallback.
type EventType int

const (
	EventPortAdded EventType = iota
	EventPortRemoved
	EventStateChange
	EventAddPoll
	EventUpdatePoll
	EventRemovePoll
	EventNeedInput
	EventHaveOutput
	EventReuseBuffer
	EventRequestClockUpdate
)

// PollFd is one descriptor-with-events entry inside a PollItem. Revents is
// populated by the Worker after a wait and is only meaningful inside a
// PollItem's After hook.
type PollFd struct {
	Fd      int
	Events  int16
	Revents int16
}

// PollItem describes one pollable unit an element wants the node's Worker
// to include in its wait set, with optional cooperative hooks. Hooks must
// never block indefinitely: they run on the Worker thread.
type PollItem struct {
	ID      uint32
	Enabled bool
	Fds     []PollFd
	Idle    func()
	Before  func()
	After   func([]PollFd)
	UserData any
}

// Event is delivered to the node runtime's event callback.
type Event struct {
	Type EventType

	// EventPortAdded / EventPortRemoved
	PortID uint32

	// EventStateChange
	State NodeState

	// EventAddPoll / EventUpdatePoll / EventRemovePoll
	Poll PollItem

	// EventHaveOutput / EventReuseBuffer
	BufferPortID uint32
	BufferID     uint32
}

// PortOutputInfo is what PullOutput reports for one output port.
type PortOutputInfo struct {
	PortID   uint32
	BufferID uint32
	Status   int
}

// PortInputInfo is what PushInput pushes into one input port.
type PortInputInfo struct {
	PortID   uint32
	BufferID uint32
	Flags    int
	Status   int
}

// EventCallback is installed on an Element via SetEventCallback.
type EventCallback func(Event)

// Clock is the sub-interface of an element that provides monotonic time
// and rate, used by the clock bridge (§4.5).
type Clock interface {
	GetTime() (rate uint32, ticks uint64, monotonicTime int64)
}

// Element is the capability set the node runtime requires from the
// underlying media-processing unit it wraps. It is supplied externally:
// this repository never discovers or instantiates one (non-goal), it only
// drives whatever implementation it is constructed with.
type Element interface {
	// GetNPorts reports current and maximum port counts per direction.
	GetNPorts() (nInput, maxInput, nOutput, maxOutput uint32)
	// GetPortIDs returns the live port ids for each direction. maxInput and
	// maxOutput bound how many ids each direction can hold; implementations
	// return only the ids currently in use.
	GetPortIDs(maxInput, maxOutput uint32) (inputIDs, outputIDs []uint32)
	// SetEventCallback installs the callback invoked for asynchronous
	// element events. Replaces any previously installed callback.
	SetEventCallback(cb EventCallback)
	// SendCommand dispatches a command synchronously; a non-nil error
	// indicates the element rejected it.
	SendCommand(cmd Command) error
	// PortSetFormat negotiates (or, with format == nil, releases) the
	// format on one port. The node runtime only ever calls this with
	// direction=Output, portID=0, format=nil (§4.6 Suspended transition);
	// format negotiation itself is out of scope.
	PortSetFormat(direction Direction, portID uint32, format any) error
	// PortPullOutput pulls exactly one completed output buffer record.
	PortPullOutput() (PortOutputInfo, error)
	// PortPushInput pushes exactly one buffer into an input port.
	PortPushInput(info PortInputInfo) error
	// PortReuseBuffer returns a buffer id to an output port's free pool.
	PortReuseBuffer(portID, bufferID uint32) error
	// GetClock returns the element's clock capability, if any.
	GetClock() (Clock, bool)
}
