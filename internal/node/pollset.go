package node

import (
	"sync"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
	"golang.org/x/sys/unix"
)

// pollSet is the dynamic collection of poll items described in §4.3: item
// 0's fd array begins with a wake eventfd at index 0, followed by each
// enabled item's fds in insertion order, rebuilt into one contiguous
// published array before each Worker wait (§4.4 step 2, I6).
//
// All mutation happens through add/update/remove; every mutator wakes the
// Worker (§5), which is the sole reader of the published array during
// wait.
type pollSet struct {
	mu       sync.Mutex
	capacity int

	order []uint32          // item ids, insertion order
	items map[uint32]spa.PollItem

	wakeFd int

	rebuild bool
	// published is the contiguous array handed to unix.Poll: index 0 is
	// always the wake fd.
	published []unix.PollFd
	// ranges[id] is the half-open range of `published` indices owned by
	// that item's Fds, valid only immediately after a rebuild.
	ranges map[uint32][2]int
}

func newPollSet(capacity int) (*pollSet, error) {
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &pollSet{
		capacity:  capacity,
		items:     make(map[uint32]spa.PollItem),
		ranges:    make(map[uint32][2]int),
		wakeFd:    wakeFd,
		rebuild:   true,
		published: []unix.PollFd{{Fd: int32(wakeFd), Events: unix.POLLIN}},
	}, nil
}

func (p *pollSet) close() error {
	return unix.Close(p.wakeFd)
}

// wake writes one 64-bit value to the wake eventfd; any mutator calls this
// (§4.4 Wakeup, §5).
func (p *pollSet) wake() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(p.wakeFd, buf[:])
}

// add appends item, marking the set for an fd-array rebuild when the item
// carries descriptors (§4.3 add()).
func (p *pollSet) add(item spa.PollItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.items[item.ID]; !exists && len(p.order) >= p.capacity {
		return ErrPollSetFull
	}
	if _, exists := p.items[item.ID]; !exists {
		p.order = append(p.order, item.ID)
	}
	p.items[item.ID] = item
	if len(item.Fds) > 0 {
		p.rebuild = true
	}
	return nil
}

// update replaces the item with the same id (§4.3 update()).
func (p *pollSet) update(item spa.PollItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.items[item.ID]; !exists {
		return
	}
	p.items[item.ID] = item
	if len(item.Fds) > 0 {
		p.rebuild = true
	}
}

// remove deletes the item with the given id (§4.3 remove()). Returns
// whether the set is now empty.
func (p *pollSet) remove(id uint32) (empty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.items[id]; exists {
		delete(p.items, id)
		for i, existing := range p.order {
			if existing == id {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
		p.rebuild = true
	}
	return len(p.order) == 0
}

func (p *pollSet) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// forEachEnabled invokes fn for every currently-enabled item, in insertion
// order, under the pollSet lock released before fn runs (hooks must not
// mutate the set directly; they go through add/update/remove like anyone
// else).
func (p *pollSet) forEachEnabled(fn func(spa.PollItem)) {
	p.mu.Lock()
	items := make([]spa.PollItem, 0, len(p.order))
	for _, id := range p.order {
		if it := p.items[id]; it.Enabled {
			items = append(items, it)
		}
	}
	p.mu.Unlock()
	for _, it := range items {
		fn(it)
	}
}

// needsRebuild reports the rebuild flag; rebuildFds is what clears it.
func (p *pollSet) needsRebuild() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rebuild
}

// rebuildFds republishes the contiguous fd array: wake fd at index 0, then
// each enabled item's fds in insertion order (§4.3, §4.4 step 2).
func (p *pollSet) rebuildFds() {
	p.mu.Lock()
	defer p.mu.Unlock()

	published := make([]unix.PollFd, 1, 1+len(p.order)*2)
	published[0] = unix.PollFd{Fd: int32(p.wakeFd), Events: unix.POLLIN}
	ranges := make(map[uint32][2]int, len(p.order))

	for _, id := range p.order {
		it := p.items[id]
		if !it.Enabled || len(it.Fds) == 0 {
			continue
		}
		start := len(published)
		for _, fd := range it.Fds {
			published = append(published, unix.PollFd{Fd: int32(fd.Fd), Events: fd.Events})
		}
		ranges[id] = [2]int{start, len(published)}
	}

	p.published = published
	p.ranges = ranges
	p.rebuild = false
}

// waitFds returns the published array to wait on. Only the Worker thread
// calls this (I6).
func (p *pollSet) waitFds() []unix.PollFd {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// reventsFor returns the post-wait PollFd slice (with Revents filled in)
// for the given item id, for use by its After hook.
func (p *pollSet) reventsFor(id uint32) []spa.PollFd {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.ranges[id]
	if !ok {
		return nil
	}
	out := make([]spa.PollFd, 0, r[1]-r[0])
	for _, pf := range p.published[r[0]:r[1]] {
		out = append(out, spa.PollFd{Fd: int(pf.Fd), Events: pf.Events, Revents: pf.Revents})
	}
	return out
}

// wakeReady reports whether the wake eventfd (index 0) is readable after a
// wait, and drains it if so (§4.4 step 5).
func (p *pollSet) wakeReady() bool {
	p.mu.Lock()
	ready := len(p.published) > 0 && p.published[0].Revents&unix.POLLIN != 0
	wakeFd := p.wakeFd
	p.mu.Unlock()
	if !ready {
		return false
	}
	var buf [8]byte
	for {
		_, err := unix.Read(wakeFd, buf[:])
		if err != nil {
			break
		}
	}
	return true
}
