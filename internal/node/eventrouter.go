package node

import (
	"github.com/penguintech/marchproxy/proxy-medianode/internal/metrics"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
	"github.com/sirupsen/logrus"
)

// eventRouter dispatches the events an element delivers through its
// registered callback to the appropriate subcomponent (§4.7). It holds no
// state of its own beyond the owning Node.
type eventRouter struct {
	node *Node
}

func newEventRouter(n *Node) *eventRouter {
	return &eventRouter{node: n}
}

// handle is installed as the element's EventCallback.
func (r *eventRouter) handle(ev spa.Event) {
	n := r.node
	switch ev.Type {
	case spa.EventPortAdded:
		n.mu.Lock()
		n.portTable.Refresh(n.element)
		dir := n.portTable.DirectionOf(ev.PortID)
		n.mu.Unlock()
		if n.observer != nil {
			n.observer.OnPortAdded(n.handle, dir, ev.PortID)
		}

	case spa.EventPortRemoved:
		n.mu.Lock()
		n.portTable.Refresh(n.element)
		n.mu.Unlock()
		if n.observer != nil {
			n.observer.OnPortRemoved(n.handle, ev.PortID)
		}

	case spa.EventStateChange:
		n.mu.Lock()
		n.elementState = ev.State
		if ev.State == spa.NodeStateConfigure {
			n.portTable.Refresh(n.element)
		}
		n.mu.Unlock()
		n.log.WithField("element_state", ev.State.String()).Debug("element state changed")

	case spa.EventAddPoll:
		if err := n.poll.add(ev.Poll); err != nil {
			n.log.WithError(err).Warn("add poll item failed")
			return
		}
		n.poll.wake()
		n.worker.start()

	case spa.EventUpdatePoll:
		n.poll.update(ev.Poll)
		n.poll.wake()

	case spa.EventRemovePoll:
		empty := n.poll.remove(ev.Poll.ID)
		n.poll.wake()
		if empty {
			n.worker.stop()
		}

	case spa.EventNeedInput:
		// reserved; no-op in the core (§4.7).

	case spa.EventHaveOutput:
		r.handleHaveOutput()

	case spa.EventReuseBuffer:
		r.handleReuseBuffer(ev.BufferPortID, ev.BufferID)

	case spa.EventRequestClockUpdate:
		n.mu.Lock()
		clk, ok := n.effectiveClockLocked()
		cmd := n.clock.compute(clk, ok)
		n.mu.Unlock()
		if err := n.element.SendCommand(cmd); err != nil {
			n.log.WithError(err).Warn("clock update command failed")
		}
	}
}

// handleHaveOutput pulls the completed buffer and forwards it to every
// matching output link whose peer input node is Streaming, in link-table
// order (§4.7 HaveOutput, §5 ordering guarantee, §8 P8).
func (r *eventRouter) handleHaveOutput() {
	n := r.node
	info, err := n.element.PortPullOutput()
	if err != nil {
		n.log.WithError(err).Warn("pull output failed")
		return
	}

	links := n.Links(spa.DirectionOutput)
	for _, l := range links {
		if l.OutputPort != info.PortID {
			continue
		}
		peer := l.InputNode
		peer.mu.Lock()
		streaming := peer.elementState == spa.NodeStateStreaming
		peer.mu.Unlock()
		if !streaming {
			continue
		}
		err := peer.element.PortPushInput(spa.PortInputInfo{
			PortID:   l.InputPort,
			BufferID: info.BufferID,
		})
		if err != nil {
			n.log.WithError(err).WithFields(logrus.Fields{
				"peer":      peer.handle,
				"peer_port": l.InputPort,
				"buffer":    info.BufferID,
			}).Warn("push input failed")
			continue
		}
		metrics.BuffersForwardedTotal.WithLabelValues(n.handle).Inc()
	}
}

// handleReuseBuffer returns a buffer to every matching input link's
// upstream output port (§4.7 ReuseBuffer).
func (r *eventRouter) handleReuseBuffer(portID, bufferID uint32) {
	n := r.node
	links := n.Links(spa.DirectionInput)
	for _, l := range links {
		if l.InputPort != portID {
			continue
		}
		peer := l.OutputNode
		if err := peer.element.PortReuseBuffer(l.OutputPort, bufferID); err != nil {
			n.log.WithError(err).WithFields(logrus.Fields{
				"peer":      peer.handle,
				"peer_port": l.OutputPort,
				"buffer":    bufferID,
			}).Warn("reuse buffer failed")
		}
	}
}
