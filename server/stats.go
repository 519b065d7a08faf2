package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// StatsSnapshot is a point-in-time copy of the server counters.
type StatsSnapshot struct {
	StartTime time.Time

	TotalConnections int64
	TotalLogins      int64
	TotalAnonLogins  int64
	TotalUploads     int64
	TotalDownloads   int64
	TotalDeletes     int64
	UploadBytes      int64
	DownloadBytes    int64

	CurrentConnections int64
	CurrentLogins      int64
	CurrentAnonLogins  int64
}

// Stats aggregates server-wide counters. Totals are monotonic; the
// "current" counters move in matched inc/dec pairs and are clamped at
// zero, so a mis-ordered close can never drive them negative.
//
// All mutations are atomic with respect to concurrent sessions. Observer
// callbacks fire through the server's event queue, off the critical path.
type Stats struct {
	startTime time.Time

	totalConnections atomic.Int64
	totalLogins      atomic.Int64
	totalAnonLogins  atomic.Int64
	totalUploads     atomic.Int64
	totalDownloads   atomic.Int64
	totalDeletes     atomic.Int64
	uploadBytes      atomic.Int64
	downloadBytes    atomic.Int64

	currentConnections atomic.Int64
	currentLogins      atomic.Int64
	currentAnonLogins  atomic.Int64

	mu        sync.RWMutex
	observers []StatsObserver
	notifier  *notifier
}

func newStats(n *notifier) *Stats {
	return &Stats{
		startTime: time.Now(),
		notifier:  n,
	}
}

// AddObserver registers an observer for statistics changes.
func (st *Stats) AddObserver(o StatsObserver) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.observers = append(st.observers, o)
}

// Snapshot returns a consistent-enough copy of all counters. Individual
// loads are atomic; the snapshot as a whole is advisory, which is all the
// admin surface needs.
func (st *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		StartTime:          st.startTime,
		TotalConnections:   st.totalConnections.Load(),
		TotalLogins:        st.totalLogins.Load(),
		TotalAnonLogins:    st.totalAnonLogins.Load(),
		TotalUploads:       st.totalUploads.Load(),
		TotalDownloads:     st.totalDownloads.Load(),
		TotalDeletes:       st.totalDeletes.Load(),
		UploadBytes:        st.uploadBytes.Load(),
		DownloadBytes:      st.downloadBytes.Load(),
		CurrentConnections: st.currentConnections.Load(),
		CurrentLogins:      st.currentLogins.Load(),
		CurrentAnonLogins:  st.currentAnonLogins.Load(),
	}
}

func (st *Stats) recordConnectionOpen() {
	st.totalConnections.Add(1)
	st.currentConnections.Add(1)
	st.notifyObservers()
}

func (st *Stats) recordConnectionClose() {
	clampedDec(&st.currentConnections)
	st.notifyObservers()
}

func (st *Stats) recordLogin(anonymous bool) {
	st.totalLogins.Add(1)
	st.currentLogins.Add(1)
	if anonymous {
		st.totalAnonLogins.Add(1)
		st.currentAnonLogins.Add(1)
	}
	st.notifyObservers()
}

func (st *Stats) recordLogout(anonymous bool) {
	clampedDec(&st.currentLogins)
	if anonymous {
		clampedDec(&st.currentAnonLogins)
	}
	st.notifyObservers()
}

func (st *Stats) recordUpload(bytes int64) {
	st.totalUploads.Add(1)
	st.uploadBytes.Add(bytes)
	st.notifyObservers()
}

func (st *Stats) recordDownload(bytes int64) {
	st.totalDownloads.Add(1)
	st.downloadBytes.Add(bytes)
	st.notifyObservers()
}

func (st *Stats) recordDelete() {
	st.totalDeletes.Add(1)
	st.notifyObservers()
}

func (st *Stats) notifyObservers() {
	st.mu.RLock()
	if len(st.observers) == 0 {
		st.mu.RUnlock()
		return
	}
	observers := make([]StatsObserver, len(st.observers))
	copy(observers, st.observers)
	st.mu.RUnlock()

	snapshot := st.Snapshot()
	st.notifier.publish(func() {
		for _, o := range observers {
			o.StatsChanged(snapshot)
		}
	})
}

// clampedDec decrements c but never below zero.
func clampedDec(c *atomic.Int64) {
	for {
		v := c.Load()
		if v <= 0 {
			return
		}
		if c.CompareAndSwap(v, v-1) {
			return
		}
	}
}
