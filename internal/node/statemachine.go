package node

import (
	"time"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/metrics"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
)

// State returns the node's current lifecycle state.
func (n *Node) State() Lifecycle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Diagnostic returns the value recorded by the most recent ReportError, if
// the node is (or was last) in Error.
func (n *Node) Diagnostic() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.diag
}

// SetState drives an external lifecycle transition (§4.6). Returns false
// and ErrInvalidTransition for an unrecognized target.
func (n *Node) SetState(target Lifecycle) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setStateLocked(target)
}

func (n *Node) setStateLocked(target Lifecycle) (bool, error) {
	n.cancelIdleTimerLocked()

	switch target {
	case LifecycleSuspended:
		if err := n.element.PortSetFormat(spa.DirectionOutput, 0, nil); err != nil {
			n.log.WithError(err).Warn("port_set_format(none) on output port 0 failed")
		}
	case LifecycleInitializing:
		// no-op carrier for two-phase start (§4.6).
	case LifecycleIdle:
		if err := n.element.SendCommand(spa.Command{Type: spa.CommandPause}); err != nil {
			n.log.WithError(err).Warn("pause command failed")
		}
	case LifecycleRunning:
		clk, ok := n.effectiveClockLocked()
		if err := n.element.SendCommand(n.clock.compute(clk, ok)); err != nil {
			n.log.WithError(err).Warn("clock update command failed")
		}
		if err := n.element.SendCommand(spa.Command{Type: spa.CommandStart}); err != nil {
			n.log.WithError(err).Warn("start command failed")
		}
	case LifecycleError:
		// diagnostic-bearing error entry goes through ReportError; a bare
		// SetState(Error) just records the transition.
	default:
		return false, ErrInvalidTransition
	}

	n.updateStateLocked(target)
	if target == LifecycleIdle {
		n.scheduleIdleTimerLocked()
	}
	return true, nil
}

// updateStateLocked is the single point that publishes a new state; it is
// idempotent when s equals the current state (§4.6, §8 P9).
func (n *Node) updateStateLocked(s Lifecycle) {
	if s == n.state {
		return
	}
	previous := n.state
	n.state = s
	metrics.SetNodeState(n.handle, previous.String(), s.String())
	n.log.WithField("state", s.String()).Info("lifecycle state changed")
	if n.observer != nil {
		n.observer.OnStateChanged(n.handle, s)
	}
}

// reportIdleLocked forces an Idle transition. Callers must already hold
// n.mu — this is invoked directly as the linkSlots onEmpty hook, which
// always fires while the owning Link operation holds the lock.
func (n *Node) reportIdleLocked() {
	_, _ = n.setStateLocked(LifecycleIdle)
}

// ReportIdle forces a transition to Idle (§4.6 report_idle). Exposed for
// callers outside the node package; internal callers (linkSlots) use
// reportIdleLocked directly.
func (n *Node) ReportIdle() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reportIdleLocked()
}

// ReportBusy forces a transition to Running (§4.6 report_busy).
func (n *Node) ReportBusy() {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = n.setStateLocked(LifecycleRunning)
}

// ReportError records diag, cancels any pending idle timer, forces Error,
// and always notifies observers — even if already in Error — since
// forcing Error is documented as unconditionally notifying (§4.6).
func (n *Node) ReportError(diag string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelIdleTimerLocked()
	n.diag = diag
	previous := n.state
	n.state = LifecycleError
	metrics.SetNodeState(n.handle, previous.String(), LifecycleError.String())
	n.log.WithField("diagnostic", diag).Error("node reported error")
	if n.observer != nil {
		n.observer.OnStateChanged(n.handle, LifecycleError)
	}
}

func (n *Node) cancelIdleTimerLocked() {
	if n.idleTimer != nil {
		n.idleTimer.Stop()
		n.idleTimer = nil
	}
}

func (n *Node) scheduleIdleTimerLocked() {
	n.idleTimer = time.AfterFunc(n.idleTimeout, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.idleTimer == nil {
			return // canceled by an intervening transition
		}
		n.idleTimer = nil
		_, _ = n.setStateLocked(LifecycleSuspended)
	})
}

func (n *Node) effectiveClockLocked() (spa.Clock, bool) {
	if n.clockRef != nil {
		return n.clockRef, true
	}
	return n.element.GetClock()
}
