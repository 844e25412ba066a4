package node

import (
	"sync"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
)

// fakeElement is a minimal in-memory spa.Element used to drive the node
// runtime's tests without a real plug-in or real file descriptors.
type fakeElement struct {
	mu sync.Mutex

	nInput, maxInput   uint32
	nOutput, maxOutput uint32
	inputIDs           []uint32
	outputIDs          []uint32

	cb spa.EventCallback

	clock      *fakeClock
	clockOK    bool
	state      spa.NodeState
	formatOffs []uint32 // ports that had PortSetFormat(_, _, nil) called

	commands []spa.Command
	pulled   []spa.PortOutputInfo
	pushed   []spa.PortInputInfo
	reused   [][2]uint32

	sendCommandErr error
	pullErr        error
	pushErr        error
	reuseErr       error
}

func newFakeElement() *fakeElement {
	return &fakeElement{}
}

func (e *fakeElement) GetNPorts() (nInput, maxInput, nOutput, maxOutput uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nInput, e.maxInput, e.nOutput, e.maxOutput
}

func (e *fakeElement) GetPortIDs(maxInput, maxOutput uint32) (inputIDs, outputIDs []uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in := make([]uint32, len(e.inputIDs))
	copy(in, e.inputIDs)
	out := make([]uint32, len(e.outputIDs))
	copy(out, e.outputIDs)
	return in, out
}

func (e *fakeElement) SetEventCallback(cb spa.EventCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

func (e *fakeElement) emit(ev spa.Event) {
	e.mu.Lock()
	cb := e.cb
	e.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (e *fakeElement) SendCommand(cmd spa.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, cmd)
	return e.sendCommandErr
}

func (e *fakeElement) PortSetFormat(direction spa.Direction, portID uint32, format any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if format == nil {
		e.formatOffs = append(e.formatOffs, portID)
	}
	return nil
}

func (e *fakeElement) PortPullOutput() (spa.PortOutputInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pullErr != nil {
		return spa.PortOutputInfo{}, e.pullErr
	}
	if len(e.pulled) == 0 {
		return spa.PortOutputInfo{}, ErrNotFound
	}
	info := e.pulled[0]
	e.pulled = e.pulled[1:]
	return info, nil
}

func (e *fakeElement) PortPushInput(info spa.PortInputInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushed = append(e.pushed, info)
	return e.pushErr
}

func (e *fakeElement) PortReuseBuffer(portID, bufferID uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reused = append(e.reused, [2]uint32{portID, bufferID})
	return e.reuseErr
}

func (e *fakeElement) GetClock() (spa.Clock, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clock == nil {
		return nil, false
	}
	return e.clock, e.clockOK
}

func (e *fakeElement) lastCommands() []spa.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]spa.Command, len(e.commands))
	copy(out, e.commands)
	return out
}

func (e *fakeElement) setState(s spa.NodeState) {
	e.emit(spa.Event{Type: spa.EventStateChange, State: s})
}

// fakeClock is a deterministic spa.Clock for tests.
type fakeClock struct {
	mu            sync.Mutex
	rate          uint32
	ticks         uint64
	monotonicTime int64
}

func (c *fakeClock) GetTime() (rate uint32, ticks uint64, monotonicTime int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate, c.ticks, c.monotonicTime
}

func (c *fakeClock) advance(ticks uint64, mono int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = ticks
	c.monotonicTime = mono
}

// fakeObserver records every notification for assertions.
type fakeObserver struct {
	mu            sync.Mutex
	portsAdded    []uint32
	portsRemoved  []uint32
	stateChanges  []Lifecycle
	removed       []string
}

func (o *fakeObserver) OnPortAdded(handle string, direction spa.Direction, portID uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.portsAdded = append(o.portsAdded, portID)
}

func (o *fakeObserver) OnPortRemoved(handle string, portID uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.portsRemoved = append(o.portsRemoved, portID)
}

func (o *fakeObserver) OnStateChanged(handle string, state Lifecycle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateChanges = append(o.stateChanges, state)
}

func (o *fakeObserver) OnRemove(handle string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, handle)
}

func (o *fakeObserver) snapshot() (states []Lifecycle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Lifecycle, len(o.stateChanges))
	copy(out, o.stateChanges)
	return out
}
