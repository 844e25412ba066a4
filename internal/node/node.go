// Package node implements the per-node runtime of the media-processing
// daemon: the state machine, port/link bookkeeping, poll-driven worker
// thread, event-driven buffer forwarding, and clock-update protocol for one
// node wrapping one element.
package node

import (
	"sort"
	"sync"
	"time"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/metrics"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
	"github.com/sirupsen/logrus"
)

// Link joins one output port of one node to one input port of another
// (§3, §6). Both endpoints hold a non-owning reference through their
// linkSlots table; nothing but the slot tables owns a Link.
type Link struct {
	OutputNode  *Node
	OutputIndex uint32
	OutputPort  uint32

	InputNode  *Node
	InputIndex uint32
	InputPort  uint32

	Properties map[string]string
}

// Remove releases both endpoints' slot entries (§4.8 "subscribe to its
// removal to release both slots"). Safe to call more than once.
func (l *Link) Remove() {
	a, b := lockOrder(l.OutputNode, l.InputNode)
	a.mu.Lock()
	if b != a {
		b.mu.Lock()
	}
	l.OutputNode.outputLinks.release(int(l.OutputIndex), l)
	l.InputNode.inputLinks.release(int(l.InputIndex), l)
	l.OutputNode.publishLinkGaugeLocked(spa.DirectionOutput)
	l.InputNode.publishLinkGaugeLocked(spa.DirectionInput)
	if b != a {
		b.mu.Unlock()
	}
	a.mu.Unlock()
}

// Config is the set of construction parameters for a Node.
type Config struct {
	Handle      string
	Name        string
	Owner       string
	Properties  map[string]string
	Element     spa.Element
	Observer    Observer // optional
	PollCapacity int     // 0 defaults to 16, the source's static bound (§9)
	IdleTimeout time.Duration // 0 defaults to 3s (§3, §4.6)
	Log         *logrus.Entry
}

// Node is the core aggregate (§3): identity, element ownership, port
// bookkeeping, link tables, PollSet/Worker, clock bridge, and lifecycle
// state machine.
type Node struct {
	handle     string
	name       string
	owner      string
	properties map[string]string

	mu           sync.Mutex
	element      spa.Element
	portTable    PortTable
	outputLinks  linkSlots
	inputLinks   linkSlots
	clockRef     spa.Clock
	elementState spa.NodeState

	state       Lifecycle
	diag        string
	idleTimer   *time.Timer
	idleTimeout time.Duration
	clock       clockBridge

	observer Observer
	log      *logrus.Entry

	poll   *pollSet
	worker *worker
	router *eventRouter
}

// New constructs a Node (§3 Lifecycle): installs the event callback, primes
// the wake eventfd (via the PollSet), snapshots port ids, and enters
// Suspended. Registration with an external registry is the caller's
// responsibility (§1: registry is an external collaborator).
func New(cfg Config) (*Node, error) {
	capacity := cfg.PollCapacity
	if capacity <= 0 {
		capacity = 16
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 3 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("node", cfg.Handle)

	poll, err := newPollSet(capacity)
	if err != nil {
		return nil, err
	}

	n := &Node{
		handle:      cfg.Handle,
		name:        cfg.Name,
		owner:       cfg.Owner,
		properties:  cfg.Properties,
		element:     cfg.Element,
		state:       LifecycleSuspended,
		idleTimeout: idleTimeout,
		observer:    cfg.Observer,
		log:         log,
		poll:        poll,
	}
	n.worker = newWorker(poll, cfg.Handle, log)
	n.router = newEventRouter(n)

	n.element.SetEventCallback(n.router.handle)
	n.portTable.Refresh(n.element)
	// onEmpty fires while the caller (Link/Link.Remove) already holds n.mu,
	// so it must use the non-locking reportIdleLocked, not ReportIdle.
	n.outputLinks.onEmpty = n.reportIdleLocked
	n.inputLinks.onEmpty = n.reportIdleLocked

	return n, nil
}

// publishLinkGaugeLocked mirrors n_used_*_links to the node_active_links
// gauge. Callers must already hold n.mu.
func (n *Node) publishLinkGaugeLocked(direction spa.Direction) {
	var used int
	var label string
	if direction == spa.DirectionOutput {
		used = n.outputLinks.nUsed
		label = "output"
	} else {
		used = n.inputLinks.nUsed
		label = "input"
	}
	metrics.ActiveLinks.WithLabelValues(n.handle, label).Set(float64(used))
}

func (n *Node) Handle() string { return n.handle }
func (n *Node) Name() string   { return n.name }
func (n *Node) Owner() string  { return n.owner }

func (n *Node) Properties() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]string, len(n.properties))
	for k, v := range n.properties {
		out[k] = v
	}
	return out
}

// PortCounts returns the node's current port bookkeeping (§3).
func (n *Node) PortCounts() (nInput, maxInput, nOutput, maxOutput uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.portTable.Counts()
}

// ActiveLinks returns the number of non-empty entries in the given
// direction's slot table (§3 n_used_*_links, §8 P3).
func (n *Node) ActiveLinks(direction spa.Direction) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if direction == spa.DirectionOutput {
		return n.outputLinks.nUsed
	}
	return n.inputLinks.nUsed
}

// PollSize reports the current number of registered poll items, for status
// reporting (SPEC_FULL §11.5).
func (n *Node) PollSize() int {
	return n.poll.size()
}

// FreePort returns the smallest unused port id in direction, or
// spa.InvalidPortID if saturated (§4.1).
func (n *Node) FreePort(direction spa.Direction) uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.portTable.FreePort(direction)
}

// FreeLinkIndex returns the first empty slot index in direction's link
// table, or its current length if none is empty (§4.8 free_link_index).
func (n *Node) FreeLinkIndex(direction spa.Direction) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if direction == spa.DirectionOutput {
		return n.outputLinks.freeIndex()
	}
	return n.inputLinks.freeIndex()
}

// Links returns a snapshot of the non-empty link-table entries in
// direction, in table order (§9 get_links open question).
func (n *Node) Links(direction spa.Direction) []*Link {
	n.mu.Lock()
	defer n.mu.Unlock()
	if direction == spa.DirectionOutput {
		return n.outputLinks.snapshot()
	}
	return n.inputLinks.snapshot()
}

// lockOrder returns a and b ordered by handle so that locking both never
// deadlocks regardless of call-site argument order.
func lockOrder(a, b *Node) (*Node, *Node) {
	if a == b || a.handle <= b.handle {
		return a, b
	}
	return b, a
}

// distinctSortedNodes dedups (by handle) and orders nodes by handle, so
// that locking them in sequence never deadlocks regardless of call-site
// argument order. Nil entries are dropped.
func distinctSortedNodes(nodes ...*Node) []*Node {
	seen := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		if n != nil {
			seen[n.handle] = n
		}
	}
	out := make([]*Node, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

func lockAll(nodes []*Node) {
	for _, n := range nodes {
		n.mu.Lock()
	}
}

func unlockAll(nodes []*Node) {
	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].mu.Unlock()
	}
}

func allocatePort(n *Node, direction spa.Direction) (uint32, error) {
	if port := n.portTable.FreePort(direction); port != spa.InvalidPortID {
		return port, nil
	}
	if first, ok := n.portTable.FirstPort(direction); ok {
		return first, nil
	}
	return 0, ErrNoPortAvailable
}

// Link implements the node-level linking contract (§4.8). outputIndex and
// inputIndex are link-table slot indices, not raw port ids: if the output
// slot is already occupied its existing Link is retargeted to the new
// input endpoint and returned; otherwise fresh physical ports are
// allocated (falling back to an existing port of that direction) and a new
// Link is stored in both tables.
func (output *Node) Link(outputIndex uint32, input *Node, inputIndex uint32, properties map[string]string) (*Link, error) {
	// A retarget may need to release the *old* input endpoint's slot, which
	// lives on a third node neither output nor input. Peek at it under
	// output's own lock first so the full lock set can be determined and
	// acquired in a single, deadlock-safe, handle-ordered pass.
	output.mu.Lock()
	var oldInput *Node
	if peek := output.outputLinks.at(int(outputIndex)); peek != nil {
		oldInput = peek.InputNode
	}
	output.mu.Unlock()

	nodes := distinctSortedNodes(output, input, oldInput)
	lockAll(nodes)
	defer unlockAll(nodes)

	if existing := output.outputLinks.at(int(outputIndex)); existing != nil {
		inputPort, err := allocatePort(input, spa.DirectionInput)
		if err != nil {
			return nil, err
		}
		if existing.InputNode != nil && existing.InputNode != input {
			existing.InputNode.inputLinks.release(int(existing.InputIndex), existing)
			existing.InputNode.publishLinkGaugeLocked(spa.DirectionInput)
		}
		existing.InputNode = input
		existing.InputIndex = inputIndex
		existing.InputPort = inputPort
		input.inputLinks.reserve(int(inputIndex), existing)
		if output.clockRef != nil {
			input.clockRef = output.clockRef
		}
		output.publishLinkGaugeLocked(spa.DirectionOutput)
		input.publishLinkGaugeLocked(spa.DirectionInput)
		output.log.WithFields(logrus.Fields{
			"output_index": outputIndex,
			"input_node":   input.handle,
			"input_index":  inputIndex,
		}).Debug("link retargeted")
		return existing, nil
	}

	outputPort, err := allocatePort(output, spa.DirectionOutput)
	if err != nil {
		return nil, err
	}
	inputPort, err := allocatePort(input, spa.DirectionInput)
	if err != nil {
		return nil, err
	}

	link := &Link{
		OutputNode: output, OutputIndex: outputIndex, OutputPort: outputPort,
		InputNode: input, InputIndex: inputIndex, InputPort: inputPort,
		Properties: properties,
	}
	output.outputLinks.reserve(int(outputIndex), link)
	input.inputLinks.reserve(int(inputIndex), link)
	output.publishLinkGaugeLocked(spa.DirectionOutput)
	input.publishLinkGaugeLocked(spa.DirectionInput)

	if output.clockRef != nil {
		input.clockRef = output.clockRef
	}

	output.log.WithFields(logrus.Fields{
		"output_port": outputPort,
		"input_node":  input.handle,
		"input_port":  inputPort,
	}).Debug("link created")
	return link, nil
}

// Remove tears the node down (§3 Lifecycle, §5 teardown ordering): forces
// Suspended, stops the Worker, drains both link tables, releases the
// eventfd, and notifies the observer.
func (n *Node) Remove() {
	_, _ = n.SetState(LifecycleSuspended)
	n.worker.stop()

	for _, l := range n.Links(spa.DirectionOutput) {
		l.Remove()
	}
	for _, l := range n.Links(spa.DirectionInput) {
		l.Remove()
	}

	if err := n.poll.close(); err != nil {
		n.log.WithError(err).Warn("closing wake eventfd failed")
	}

	if n.observer != nil {
		n.observer.OnRemove(n.handle)
	}
}
