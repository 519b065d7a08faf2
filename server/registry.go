package server

import (
	"log/slog"
	"sync"
	"time"
)

// SessionInfo is the read-only view of a live session handed to observers
// and the administrative surface.
type SessionInfo struct {
	ID          string
	RemoteAddr  string
	LocalAddr   string
	User        string
	Host        string
	LoggedIn    bool
	ConnectedAt time.Time
	LastAccess  time.Time
}

// registry is the global set of live sessions. One mutex guards the map;
// critical sections hold no I/O and no observer callbacks. Notifications
// go through the server's event queue.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	stats    *Stats
	notifier *notifier
	logger   *slog.Logger

	obsMu     sync.RWMutex
	observers []ConnectionObserver

	sweepStop chan struct{}
	sweepDone chan struct{}
}

func newRegistry(stats *Stats, n *notifier, logger *slog.Logger) *registry {
	return &registry{
		sessions: make(map[string]*session),
		stats:    stats,
		notifier: n,
		logger:   logger,
	}
}

func (r *registry) addObserver(o ConnectionObserver) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *registry) snapshotObservers() []ConnectionObserver {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	if len(r.observers) == 0 {
		return nil
	}
	observers := make([]ConnectionObserver, len(r.observers))
	copy(observers, r.observers)
	return observers
}

// open registers a freshly accepted session and bumps the connection
// counters.
func (r *registry) open(s *session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.stats.recordConnectionOpen()
	r.notifyOpened(s.info())
}

// close removes a session, settles its counters and runs the session's
// teardown. Removal is idempotent: a natural EOF racing an administrative
// kick settles the counters exactly once.
func (r *registry) close(s *session) {
	r.mu.Lock()
	_, present := r.sessions[s.id]
	delete(r.sessions, s.id)
	r.mu.Unlock()

	if present {
		if s.wasLoggedIn() {
			r.stats.recordLogout(s.isAnonymous())
		}
		r.stats.recordConnectionClose()
		r.notifyClosed(s.info())
	}

	s.teardown()
}

// find returns the live session with the given id, or nil.
func (r *registry) find(id string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// all returns a point-in-time copy of the live sessions, so iteration
// never races concurrent add/remove.
func (r *registry) all() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// kick forcibly stops a session from outside its own goroutine. Closing
// the sockets unblocks the victim's pending read with an error, and its
// dispatch loop unwinds through the normal teardown path.
func (r *registry) kick(id string) bool {
	s := r.find(id)
	if s == nil {
		return false
	}
	r.logger.Info("session_kicked", "session_id", id, "user", s.currentUser())
	s.stop()
	return true
}

func (r *registry) notifyOpened(info SessionInfo) {
	observers := r.snapshotObservers()
	if observers == nil {
		return
	}
	r.notifier.publish(func() {
		for _, o := range observers {
			o.ConnectionOpened(info)
		}
	})
}

func (r *registry) notifyClosed(info SessionInfo) {
	observers := r.snapshotObservers()
	if observers == nil {
		return
	}
	r.notifier.publish(func() {
		for _, o := range observers {
			o.ConnectionClosed(info)
		}
	})
}

func (r *registry) notifyUpdated(info SessionInfo) {
	observers := r.snapshotObservers()
	if observers == nil {
		return
	}
	r.notifier.publish(func() {
		for _, o := range observers {
			o.ConnectionUpdated(info)
		}
	})
}

// startSweep launches the periodic idle reaper. Each pass closes sessions
// past their idle budget, disposes data-channel reservations that were
// announced but never used, then asks the user manager to reload its
// backing store. A failing pass is logged and the next one still runs.
func (r *registry) startSweep(interval time.Duration, um UserManager) {
	if interval <= 0 {
		return
	}
	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})

	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(time.Now(), um)
			case <-r.sweepStop:
				return
			}
		}
	}()
}

func (r *registry) sweep(now time.Time, um UserManager) {
	for _, s := range r.all() {
		if s.idleTimeout(now) {
			r.logger.Info("session_idle_timeout",
				"session_id", s.id,
				"user", s.currentUser(),
			)
			s.stop()
			continue
		}
		if s.data.IdleTimeout(now) {
			r.logger.Info("data_connection_idle_timeout", "session_id", s.id)
			s.data.Dispose()
		}
	}

	if um != nil {
		if err := um.Reload(); err != nil {
			r.logger.Error("user manager reload failed", "error", err)
		}
	}
}

func (r *registry) stopSweep() {
	if r.sweepStop == nil {
		return
	}
	close(r.sweepStop)
	<-r.sweepDone
	r.sweepStop = nil
}
