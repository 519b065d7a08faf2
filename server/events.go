package server

import (
	"sync"
	"sync/atomic"
)

// ConnectionObserver receives lifecycle notifications for control
// connections. Callbacks run on a dedicated dispatcher goroutine, never
// under the registry lock, so a slow observer cannot stall session
// bookkeeping. Events for one session are delivered in the order they
// were produced; events for different sessions may interleave.
type ConnectionObserver interface {
	ConnectionOpened(info SessionInfo)
	ConnectionClosed(info SessionInfo)
	ConnectionUpdated(info SessionInfo)
}

// StatsObserver is notified after each statistics mutation, off the
// counters' critical path.
type StatsObserver interface {
	StatsChanged(snapshot StatsSnapshot)
}

// notifier is the internal event queue backing observer dispatch. A single
// goroutine drains queued closures in FIFO order, which preserves
// per-session ordering without holding any lock during delivery.
type notifier struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan func()
	done    chan struct{}
	dropped atomic.Int64
}

const notifyQueueSize = 1024

func newNotifier() *notifier {
	n := &notifier{
		queue: make(chan func(), notifyQueueSize),
		done:  make(chan struct{}),
	}
	go n.drain()
	return n
}

func (n *notifier) drain() {
	defer close(n.done)
	for fn := range n.queue {
		fn()
	}
}

// publish enqueues an observer callback. When the queue is full the event
// is dropped rather than blocking the producer; drops are counted for
// diagnostics.
func (n *notifier) publish(fn func()) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- fn:
	default:
		n.dropped.Add(1)
	}
}

// stop flushes queued events and stops the dispatcher. Idempotent.
func (n *notifier) stop() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}
