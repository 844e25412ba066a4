package node

import (
	"os"
	"testing"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
	"golang.org/x/sys/unix"
)

func TestPollSetRebuildOrderingAndWakeAtZero(t *testing.T) {
	p, err := newPollSet(4)
	if err != nil {
		t.Fatalf("newPollSet: %v", err)
	}
	defer p.close()

	r1, w1, _ := os.Pipe()
	defer r1.Close()
	defer w1.Close()
	r2, w2, _ := os.Pipe()
	defer r2.Close()
	defer w2.Close()

	if err := p.add(spa.PollItem{ID: 1, Enabled: true, Fds: []spa.PollFd{{Fd: int(r1.Fd()), Events: unix.POLLIN}}}); err != nil {
		t.Fatalf("add 1: %v", err)
	}
	if err := p.add(spa.PollItem{ID: 2, Enabled: true, Fds: []spa.PollFd{{Fd: int(r2.Fd()), Events: unix.POLLIN}}}); err != nil {
		t.Fatalf("add 2: %v", err)
	}

	if !p.needsRebuild() {
		t.Fatal("expected rebuild flag set after adding items with fds")
	}
	p.rebuildFds()
	if p.needsRebuild() {
		t.Fatal("expected rebuild flag cleared after rebuild")
	}

	fds := p.waitFds()
	if len(fds) != 3 {
		t.Fatalf("expected wake fd + 2 item fds, got %d", len(fds))
	}
	if fds[0].Fd != int32(p.wakeFd) {
		t.Fatalf("expected wake fd at index 0, got %d", fds[0].Fd)
	}
	if fds[1].Fd != int32(r1.Fd()) || fds[2].Fd != int32(r2.Fd()) {
		t.Fatalf("expected item fds in insertion order, got %+v", fds)
	}
}

func TestPollSetCapacityEnforced(t *testing.T) {
	p, err := newPollSet(1)
	if err != nil {
		t.Fatalf("newPollSet: %v", err)
	}
	defer p.close()

	if err := p.add(spa.PollItem{ID: 1, Enabled: true}); err != nil {
		t.Fatalf("add first item: %v", err)
	}
	if err := p.add(spa.PollItem{ID: 2, Enabled: true}); err != ErrPollSetFull {
		t.Fatalf("expected ErrPollSetFull, got %v", err)
	}
}

func TestPollSetRemoveReportsEmpty(t *testing.T) {
	p, err := newPollSet(4)
	if err != nil {
		t.Fatalf("newPollSet: %v", err)
	}
	defer p.close()

	_ = p.add(spa.PollItem{ID: 1, Enabled: true})
	if empty := p.remove(1); !empty {
		t.Fatal("expected pollSet to report empty after removing its only item")
	}
}
