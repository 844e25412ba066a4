// Package element provides a concrete spa.Element backed by a real TCP
// listener, so the node runtime is runnable end-to-end without a native
// SPA/PipeWire plug-in (explicitly out of scope for the core runtime). Each
// accepted connection becomes one output port; bytes arriving on it raise
// HaveOutput the way a real plug-in's buffer-completion callback would.
package element

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const pendingCapacity = 256

// Config configures a listener-backed Element.
type Config struct {
	Host      string
	Port      int
	MaxInput  uint32
	MaxOutput uint32
	Log       *logrus.Entry
}

// Element is a demo spa.Element: one output port per accepted TCP
// connection, reusing the same connection as an input port (for the
// PushInput ack-byte sink) while input capacity remains.
type Element struct {
	cfg Config
	log *logrus.Entry

	mu             sync.Mutex
	listener       net.Listener
	cb             spa.EventCallback
	outputConns    map[uint32]net.Conn
	inputConns     map[uint32]net.Conn
	nextOutputSlot uint32
	nextInputSlot  uint32

	nextBuffer uint32 // atomic
	pending    chan spa.PortOutputInfo

	clock *wallClock

	stopCh  chan struct{}
	stopped atomic.Bool
}

// New constructs an Element; it does not listen until Start is called.
func New(cfg Config) *Element {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Element{
		cfg:         cfg,
		log:         log.WithField("component", "element"),
		outputConns: make(map[uint32]net.Conn),
		inputConns:  make(map[uint32]net.Conn),
		pending:     make(chan spa.PortOutputInfo, pendingCapacity),
		clock:       newWallClock(),
		stopCh:      make(chan struct{}),
	}
}

// Start binds the listener, registers it as poll item 0 (SetEventCallback
// must already have been called), and begins accepting connections.
func (e *Element) Start() error {
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("element: failed to listen on %s: %w", addr, err)
	}
	e.mu.Lock()
	e.listener = listener
	e.mu.Unlock()

	if err := e.registerListenerPoll(); err != nil {
		e.log.WithError(err).Warn("listener fd could not be registered as a poll item")
	}

	e.log.WithField("address", addr).Info("element listener started")
	go e.acceptLoop()
	return nil
}

// Stop closes the listener and every bound connection.
func (e *Element) Stop() error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stopCh)

	e.mu.Lock()
	if e.listener != nil {
		e.listener.Close()
	}
	for _, c := range e.outputConns {
		c.Close()
	}
	for _, c := range e.inputConns {
		c.Close()
	}
	e.mu.Unlock()

	if e.cb != nil {
		e.cb(spa.Event{Type: spa.EventRemovePoll, Poll: spa.PollItem{ID: 0}})
	}
	e.log.Info("element listener stopped")
	return nil
}

func (e *Element) registerListenerPoll() error {
	tcpListener, ok := e.listener.(*net.TCPListener)
	if !ok {
		return nil
	}
	raw, err := tcpListener.SyscallConn()
	if err != nil {
		return err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return ctrlErr
	}
	if e.cb == nil {
		return fmt.Errorf("element: SetEventCallback must be called before Start")
	}
	e.cb(spa.Event{
		Type: spa.EventAddPoll,
		Poll: spa.PollItem{
			ID:      0,
			Enabled: true,
			Fds:     []spa.PollFd{{Fd: fd, Events: unix.POLLIN}},
		},
	})
	return nil
}

func (e *Element) acceptLoop() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
				e.log.WithError(err).Warn("accept failed")
				return
			}
		}
		e.bind(conn)
	}
}

// bind assigns the new connection an output port (if output capacity
// remains) and/or an input port (if input capacity remains), closing it if
// neither is available.
func (e *Element) bind(conn net.Conn) {
	e.mu.Lock()
	var outPort, inPort uint32
	haveOut, haveIn := false, false
	if e.nextOutputSlot < e.cfg.MaxOutput {
		outPort = e.cfg.MaxInput + e.nextOutputSlot
		e.nextOutputSlot++
		e.outputConns[outPort] = conn
		haveOut = true
	}
	if e.nextInputSlot < e.cfg.MaxInput {
		inPort = e.nextInputSlot
		e.nextInputSlot++
		e.inputConns[inPort] = conn
		haveIn = true
	}
	e.mu.Unlock()

	if !haveOut && !haveIn {
		e.log.Warn("element saturated, rejecting connection")
		conn.Close()
		return
	}
	if haveOut {
		e.log.WithField("port", outPort).Debug("output port bound")
		if e.cb != nil {
			e.cb(spa.Event{Type: spa.EventPortAdded, PortID: outPort})
		}
		go e.readLoop(outPort, conn)
	}
	if haveIn {
		e.log.WithField("port", inPort).Debug("input port bound")
		if e.cb != nil {
			e.cb(spa.Event{Type: spa.EventPortAdded, PortID: inPort})
		}
	}
}

// readLoop raises HaveOutput every time a read completes on portID's
// connection (§4.7 HaveOutput trigger).
func (e *Element) readLoop(portID uint32, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			e.closeOutputPort(portID)
			return
		}
		if n == 0 {
			continue
		}
		bufID := atomic.AddUint32(&e.nextBuffer, 1)
		select {
		case e.pending <- spa.PortOutputInfo{PortID: portID, BufferID: bufID}:
		default:
			e.log.WithField("port", portID).Warn("pending output queue full, dropping buffer")
			continue
		}
		if e.cb != nil {
			e.cb(spa.Event{Type: spa.EventHaveOutput, BufferPortID: portID})
		}
	}
}

func (e *Element) closeOutputPort(portID uint32) {
	e.mu.Lock()
	conn, ok := e.outputConns[portID]
	delete(e.outputConns, portID)
	e.mu.Unlock()
	if ok {
		conn.Close()
	}
	if e.cb != nil {
		e.cb(spa.Event{Type: spa.EventPortRemoved, PortID: portID})
	}
}

// GetNPorts implements spa.Element.
func (e *Element) GetNPorts() (nInput, maxInput, nOutput, maxOutput uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint32(len(e.inputConns)), e.cfg.MaxInput, uint32(len(e.outputConns)), e.cfg.MaxOutput
}

// GetPortIDs implements spa.Element.
func (e *Element) GetPortIDs(maxInput, maxOutput uint32) (inputIDs, outputIDs []uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.inputConns {
		inputIDs = append(inputIDs, id)
	}
	for id := range e.outputConns {
		outputIDs = append(outputIDs, id)
	}
	sort.Slice(inputIDs, func(i, j int) bool { return inputIDs[i] < inputIDs[j] })
	sort.Slice(outputIDs, func(i, j int) bool { return outputIDs[i] < outputIDs[j] })
	return inputIDs, outputIDs
}

// SetEventCallback implements spa.Element.
func (e *Element) SetEventCallback(cb spa.EventCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

// SendCommand implements spa.Element. The demo element has no real encoder
// state to drive; it only logs what it was told.
func (e *Element) SendCommand(cmd spa.Command) error {
	switch cmd.Type {
	case spa.CommandPause:
		e.log.Debug("command: pause")
	case spa.CommandStart:
		e.log.Debug("command: start")
	case spa.CommandClockUpdate:
		e.log.WithFields(logrus.Fields{
			"rate":  cmd.ClockUpdate.Rate,
			"ticks": cmd.ClockUpdate.Ticks,
			"mono":  cmd.ClockUpdate.MonotonicTime,
		}).Debug("command: clock update")
	}
	return nil
}

// PortSetFormat implements spa.Element. The node runtime only ever calls
// this with direction=Output, portID=0, format=nil on Suspended entry;
// format negotiation itself is out of scope for the demo element.
func (e *Element) PortSetFormat(direction spa.Direction, portID uint32, format any) error {
	e.log.WithFields(logrus.Fields{"direction": direction.String(), "port": portID}).Debug("port_set_format")
	return nil
}

// PortPullOutput implements spa.Element, draining the queue readLoop feeds.
func (e *Element) PortPullOutput() (spa.PortOutputInfo, error) {
	select {
	case info := <-e.pending:
		return info, nil
	default:
		return spa.PortOutputInfo{}, fmt.Errorf("element: no pending output buffer")
	}
}

// PortPushInput implements spa.Element: a deliberately simple sink that
// writes an acknowledgement byte down the matching connection, since real
// buffer-payload plumbing is out of scope.
func (e *Element) PortPushInput(info spa.PortInputInfo) error {
	e.mu.Lock()
	conn, ok := e.inputConns[info.PortID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("element: no connection bound to input port %d", info.PortID)
	}
	if _, err := conn.Write([]byte{0x06}); err != nil {
		return fmt.Errorf("element: ack write on input port %d failed: %w", info.PortID, err)
	}
	e.log.WithFields(logrus.Fields{"port": info.PortID, "buffer": info.BufferID}).Debug("push_input acked")
	return nil
}

// PortReuseBuffer implements spa.Element: the buffer is returned to an
// output port, acked down that port's connection the same way PushInput
// acks on an input port.
func (e *Element) PortReuseBuffer(portID, bufferID uint32) error {
	e.mu.Lock()
	conn, ok := e.outputConns[portID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("element: no connection bound to output port %d", portID)
	}
	if _, err := conn.Write([]byte{0x06}); err != nil {
		return fmt.Errorf("element: ack write on output port %d failed: %w", portID, err)
	}
	e.log.WithFields(logrus.Fields{"port": portID, "buffer": bufferID}).Debug("reuse_buffer acked")
	return nil
}

// GetClock implements spa.Element.
func (e *Element) GetClock() (spa.Clock, bool) {
	return e.clock, true
}

// wallClock is a spa.Clock backed by a monotonic time.Time reading.
type wallClock struct {
	start time.Time
}

func newWallClock() *wallClock { return &wallClock{start: time.Now()} }

func (c *wallClock) GetTime() (rate uint32, ticks uint64, monotonicTime int64) {
	elapsed := time.Since(c.start)
	return 1, uint64(elapsed.Milliseconds()), elapsed.Nanoseconds()
}
