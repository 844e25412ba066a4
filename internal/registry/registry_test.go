package registry

import (
	"testing"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/node"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
)

// stubElement is a no-op spa.Element, just enough to construct a *node.Node
// for registry bookkeeping tests.
type stubElement struct{}

func (stubElement) GetNPorts() (nInput, maxInput, nOutput, maxOutput uint32) { return 0, 0, 0, 0 }
func (stubElement) GetPortIDs(maxInput, maxOutput uint32) (inputIDs, outputIDs []uint32) {
	return nil, nil
}
func (stubElement) SetEventCallback(cb spa.EventCallback)          {}
func (stubElement) SendCommand(cmd spa.Command) error              { return nil }
func (stubElement) PortSetFormat(d spa.Direction, id uint32, f any) error { return nil }
func (stubElement) PortPullOutput() (spa.PortOutputInfo, error) {
	return spa.PortOutputInfo{}, nil
}
func (stubElement) PortPushInput(info spa.PortInputInfo) error      { return nil }
func (stubElement) PortReuseBuffer(portID, bufferID uint32) error   { return nil }
func (stubElement) GetClock() (spa.Clock, bool)                     { return nil, false }

func newTestRegistryNode(t *testing.T, handle string) *node.Node {
	t.Helper()
	n, err := node.New(node.Config{Handle: handle, Element: stubElement{}})
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	return n
}

func TestRegistryAddGetListRemove(t *testing.T) {
	r := New()
	n := newTestRegistryNode(t, "a")

	r.Add(n)
	if got, ok := r.Get("a"); !ok || got != n {
		t.Fatalf("expected Get to return the added node")
	}
	if len(r.List()) != 1 {
		t.Fatalf("expected List to return 1 node, got %d", len(r.List()))
	}

	r.Remove("a")
	if _, ok := r.Get("a"); ok {
		t.Fatal("expected node to be gone after Remove")
	}
}

func TestRegistryOnRemoveDropsNode(t *testing.T) {
	r := New()
	n, err := node.New(node.Config{Handle: "a", Element: stubElement{}, Observer: r})
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	r.Add(n)

	n.Remove()

	if _, ok := r.Get("a"); ok {
		t.Fatal("expected node.Remove to drop itself from the registry via OnRemove")
	}
}

func TestRegistryStats(t *testing.T) {
	r := New()
	a := newTestRegistryNode(t, "a")
	b := newTestRegistryNode(t, "b")
	r.Add(a)
	r.Add(b)

	stats := r.Stats()
	if stats.TotalNodes != 2 {
		t.Fatalf("expected 2 nodes, got %d", stats.TotalNodes)
	}
	if stats.ByState["suspended"] != 2 {
		t.Fatalf("expected both freshly-constructed nodes to be suspended, got %+v", stats.ByState)
	}
}
