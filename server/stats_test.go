package server

import (
	"sync"
	"testing"
)

func TestStatsLoginLogoutPairs(t *testing.T) {
	t.Parallel()

	n := newNotifier()
	defer n.stop()
	st := newStats(n)

	st.recordLogin(false)
	st.recordLogin(true)

	snap := st.Snapshot()
	if snap.TotalLogins != 2 || snap.CurrentLogins != 2 {
		t.Errorf("logins: total=%d current=%d, want 2/2", snap.TotalLogins, snap.CurrentLogins)
	}
	if snap.TotalAnonLogins != 1 || snap.CurrentAnonLogins != 1 {
		t.Errorf("anon: total=%d current=%d, want 1/1", snap.TotalAnonLogins, snap.CurrentAnonLogins)
	}

	st.recordLogout(true)
	st.recordLogout(false)

	snap = st.Snapshot()
	if snap.CurrentLogins != 0 || snap.CurrentAnonLogins != 0 {
		t.Errorf("current after logout: logins=%d anon=%d, want 0/0", snap.CurrentLogins, snap.CurrentAnonLogins)
	}
	if snap.TotalLogins != 2 {
		t.Errorf("totals must not decrease: got %d", snap.TotalLogins)
	}
}

func TestStatsCurrentNeverNegative(t *testing.T) {
	t.Parallel()

	n := newNotifier()
	defer n.stop()
	st := newStats(n)

	// Unmatched decrements must clamp at zero.
	st.recordConnectionClose()
	st.recordLogout(true)

	snap := st.Snapshot()
	if snap.CurrentConnections != 0 || snap.CurrentLogins != 0 || snap.CurrentAnonLogins != 0 {
		t.Errorf("clamped counters went negative: %+v", snap)
	}
}

func TestStatsConcurrentMutation(t *testing.T) {
	t.Parallel()

	n := newNotifier()
	defer n.stop()
	st := newStats(n)

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				st.recordConnectionOpen()
				st.recordUpload(10)
				st.recordDownload(20)
				st.recordConnectionClose()
			}
		}()
	}
	wg.Wait()

	snap := st.Snapshot()
	if snap.TotalConnections != workers*perWorker {
		t.Errorf("total connections: got %d, want %d", snap.TotalConnections, workers*perWorker)
	}
	if snap.CurrentConnections != 0 {
		t.Errorf("current connections: got %d, want 0", snap.CurrentConnections)
	}
	if snap.UploadBytes != workers*perWorker*10 {
		t.Errorf("upload bytes: got %d, want %d", snap.UploadBytes, workers*perWorker*10)
	}
	if snap.DownloadBytes != workers*perWorker*20 {
		t.Errorf("download bytes: got %d, want %d", snap.DownloadBytes, workers*perWorker*20)
	}
}

type recordingStatsObserver struct {
	mu    sync.Mutex
	snaps []StatsSnapshot
}

func (o *recordingStatsObserver) StatsChanged(s StatsSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snaps = append(o.snaps, s)
}

func (o *recordingStatsObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.snaps)
}

func TestStatsObserverNotified(t *testing.T) {
	t.Parallel()

	n := newNotifier()
	st := newStats(n)

	obs := &recordingStatsObserver{}
	st.AddObserver(obs)

	st.recordLogin(false)
	st.recordUpload(42)

	// stop drains the queue before returning.
	n.stop()

	if obs.count() != 2 {
		t.Errorf("observer called %d times, want 2", obs.count())
	}
}
