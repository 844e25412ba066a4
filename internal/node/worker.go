package node

import (
	"sync"
	"sync/atomic"

	"github.com/penguintech/marchproxy/proxy-medianode/internal/metrics"
	"github.com/penguintech/marchproxy/proxy-medianode/internal/spa"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// worker is the single cooperative thread driving one node's pollSet
// (§4.4). It is started when the first poll item is added and stopped
// when the last is removed (§5); its wait() call is the only suspension
// point in the node (§5 Suspension/blocking points).
type worker struct {
	poll   *pollSet
	handle string
	log    *logrus.Entry
	onWait func() // test hook, called once per wait-loop iteration before blocking

	running atomic.Bool
	wg      sync.WaitGroup
}

func newWorker(poll *pollSet, handle string, log *logrus.Entry) *worker {
	return &worker{poll: poll, handle: handle, log: log}
}

// start launches the loop goroutine if not already running (§4.4 Wakeup:
// "Adding the first item starts the thread").
func (w *worker) start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go w.run()
}

// stop clears the running flag, wakes the loop, and waits for it to exit
// (§4.4 Stop, §9 teardown ordering).
func (w *worker) stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.poll.wake()
	w.wg.Wait()
}

func (w *worker) run() {
	defer w.wg.Done()
	w.log.Debug("node worker: enter")

	for w.running.Load() {
		// 1. idle hooks; restart without blocking if any ran.
		if w.runIdle() {
			continue
		}

		// 2. rebuild the published fd array if flagged.
		if w.poll.needsRebuild() {
			w.poll.rebuildFds()
		}

		// 3. before hooks.
		w.poll.forEachEnabled(func(it spa.PollItem) {
			if it.Before != nil {
				it.Before()
			}
		})

		if w.onWait != nil {
			w.onWait()
		}

		// 4. wait, infinite timeout, EINTR restarts.
		fds := w.poll.waitFds()
		_, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.log.WithError(err).Warn("node worker: poll wait failed")
			break
		}
		metrics.PollWaitTotal.WithLabelValues(w.handle).Inc()

		// 5. wake eventfd drain restarts the loop without running afters.
		if w.poll.wakeReady() {
			continue
		}

		// 6. after hooks.
		w.poll.forEachEnabled(func(it spa.PollItem) {
			if it.After != nil {
				it.After(w.poll.reventsFor(it.ID))
			}
		})
	}

	w.log.Debug("node worker: leave")
}

func (w *worker) runIdle() bool {
	ran := false
	w.poll.forEachEnabled(func(it spa.PollItem) {
		if it.Idle != nil {
			it.Idle()
			ran = true
		}
	})
	return ran
}

func (w *worker) isRunning() bool {
	return w.running.Load()
}
