// Package registry tracks already-constructed nodes for status reporting.
// It never discovers or instantiates node implementations; that remains
// the daemon's job (cmd/medianode) and an explicit non-goal of the node
// runtime itself.
package registry

import (
	"sync"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/node"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
)

// Registry is the named interface the node runtime treats as an external
// collaborator: something that tracks nodes once they've been built and
// registered, and can list or look them up by handle.
type Registry interface {
	Add(n *node.Node)
	Remove(handle string)
	Get(handle string) (*node.Node, bool)
	List() []*node.Node
	Stats() Stats
}

// memRegistry is the in-memory Registry implementation used by the daemon
// and by tests. It also satisfies node.Observer, so it can be wired in
// directly as every node's Observer to drive OnRemove-triggered cleanup.
type memRegistry struct {
	mu    sync.RWMutex
	nodes map[string]*node.Node
}

// New returns an empty in-memory Registry.
func New() *memRegistry {
	return &memRegistry{nodes: make(map[string]*node.Node)}
}

func (r *memRegistry) Add(n *node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.Handle()] = n
}

func (r *memRegistry) Remove(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, handle)
}

func (r *memRegistry) Get(handle string) (*node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[handle]
	return n, ok
}

func (r *memRegistry) List() []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// Stats summarizes the registry for the gRPC status plane's GetMetrics
// (mirrors the teacher's Server.GetStats shape).
type Stats struct {
	TotalNodes       int
	TotalActiveLinks int
	ByState          map[string]int
}

func (r *memRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{TotalNodes: len(r.nodes), ByState: make(map[string]int)}
	for _, n := range r.nodes {
		stats.ByState[n.State().String()]++
		stats.TotalActiveLinks += n.ActiveLinks(spa.DirectionInput) + n.ActiveLinks(spa.DirectionOutput)
	}
	return stats
}

// OnPortAdded implements node.Observer. The registry itself has no
// port-level subscribers; this is a no-op hook point kept in case a future
// caller wires additional fan-out (e.g. the IPC layer named out of scope
// in §1) through the same Observer.
func (r *memRegistry) OnPortAdded(handle string, direction spa.Direction, portID uint32) {}

// OnPortRemoved implements node.Observer.
func (r *memRegistry) OnPortRemoved(handle string, portID uint32) {}

// OnStateChanged implements node.Observer.
func (r *memRegistry) OnStateChanged(handle string, state node.Lifecycle) {}

// OnRemove implements node.Observer: a node that calls Remove() drops
// itself out of the registry automatically.
func (r *memRegistry) OnRemove(handle string) {
	r.Remove(handle)
}
