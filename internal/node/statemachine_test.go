package node

import (
	"testing"
	"time"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
	"github.com/sirupsen/logrus"
)

func newTestNode(t *testing.T, el *fakeElement, obs Observer, idleTimeout time.Duration, handle ...string) *Node {
	t.Helper()
	h := "n1"
	if len(handle) > 0 {
		h = handle[0]
	}
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(testWriter{t})
	n, err := New(Config{
		Handle:      h,
		Name:        "test",
		Element:     el,
		Observer:    obs,
		IdleTimeout: idleTimeout,
		Log:         log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// S1 — cold path to Running.
func TestColdPathToRunning(t *testing.T) {
	el := newFakeElement()
	el.maxOutput = 2
	el.nOutput = 2
	el.outputIDs = []uint32{0, 1}

	obs := &fakeObserver{}
	n := newTestNode(t, el, obs, time.Hour)

	ok, err := n.SetState(LifecycleRunning)
	if err != nil || !ok {
		t.Fatalf("SetState(Running) = %v, %v", ok, err)
	}

	cmds := el.lastCommands()
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}
	if cmds[0].Type != spa.CommandClockUpdate {
		t.Fatalf("expected ClockUpdate first, got %v", cmds[0].Type)
	}
	cu := cmds[0].ClockUpdate
	if cu.Rate != 1 || cu.Ticks != 0 || cu.MonotonicTime != 0 || cu.Scale != clockScaleIdentity || cu.Flags != 0 {
		t.Fatalf("unexpected synthetic clock update: %+v", cu)
	}
	if cmds[1].Type != spa.CommandStart {
		t.Fatalf("expected Start second, got %v", cmds[1].Type)
	}

	states := obs.snapshot()
	if len(states) != 1 || states[0] != LifecycleRunning {
		t.Fatalf("expected single Running notification, got %v", states)
	}
}

// S2 — idle decay.
func TestIdleDecayToSuspended(t *testing.T) {
	el := newFakeElement()
	obs := &fakeObserver{}
	n := newTestNode(t, el, obs, 20*time.Millisecond)

	if _, err := n.SetState(LifecycleRunning); err != nil {
		t.Fatalf("SetState(Running): %v", err)
	}

	n.ReportIdle()
	cmds := el.lastCommands()
	if cmds[len(cmds)-1].Type != spa.CommandPause {
		t.Fatalf("expected Pause as last command, got %v", cmds[len(cmds)-1].Type)
	}
	if n.State() != LifecycleIdle {
		t.Fatalf("expected Idle, got %v", n.State())
	}

	time.Sleep(100 * time.Millisecond)
	if n.State() != LifecycleSuspended {
		t.Fatalf("expected Suspended after idle timeout, got %v", n.State())
	}

	formatted := false
	el.mu.Lock()
	for _, p := range el.formatOffs {
		if p == 0 {
			formatted = true
		}
	}
	el.mu.Unlock()
	if !formatted {
		t.Fatal("expected PortSetFormat(output, 0, nil) on Suspended entry")
	}
}

// P9 — idempotence.
func TestUpdateStateIdempotent(t *testing.T) {
	el := newFakeElement()
	obs := &fakeObserver{}
	n := newTestNode(t, el, obs, time.Hour)

	if _, err := n.SetState(LifecycleIdle); err != nil {
		t.Fatalf("SetState(Idle): %v", err)
	}
	before := len(obs.snapshot())

	n.mu.Lock()
	n.updateStateLocked(LifecycleIdle)
	n.mu.Unlock()

	after := len(obs.snapshot())
	if after != before {
		t.Fatalf("expected no new notification for same-state update, before=%d after=%d", before, after)
	}
}

// P7 — monotonic_time is non-decreasing across RequestClockUpdate calls.
func TestClockUpdateMonotonic(t *testing.T) {
	el := newFakeElement()
	clk := &fakeClock{rate: 48000}
	el.clock = clk
	el.clockOK = true

	n := newTestNode(t, el, nil, time.Hour)
	if _, err := n.SetState(LifecycleRunning); err != nil {
		t.Fatalf("SetState(Running): %v", err)
	}

	clk.advance(100, 1000)
	el.emit(spa.Event{Type: spa.EventRequestClockUpdate})
	clk.advance(50, 500) // clock source regresses
	el.emit(spa.Event{Type: spa.EventRequestClockUpdate})

	cmds := el.lastCommands()
	var monotonics []int64
	for _, c := range cmds {
		if c.Type == spa.CommandClockUpdate {
			monotonics = append(monotonics, c.ClockUpdate.MonotonicTime)
		}
	}
	for i := 1; i < len(monotonics); i++ {
		if monotonics[i] < monotonics[i-1] {
			t.Fatalf("monotonic_time decreased: %v", monotonics)
		}
	}
}

func TestSetStateInvalidTransition(t *testing.T) {
	el := newFakeElement()
	n := newTestNode(t, el, nil, time.Hour)

	ok, err := n.SetState(Lifecycle(99))
	if ok || err != ErrInvalidTransition {
		t.Fatalf("expected (false, ErrInvalidTransition), got (%v, %v)", ok, err)
	}
}
