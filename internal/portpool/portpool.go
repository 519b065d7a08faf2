// Package portpool manages a fixed set of TCP ports reserved for passive
// FTP data connections.
//
// A pool is built from the server configuration. Ports are handed out one
// at a time and must be released when the data connection (or the listener
// backing it) is closed. A configured port of 0 means "any ephemeral port"
// and is never tracked.
package portpool

import (
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned when every configured port is in use and the
// bounded wait ran out of retries.
var ErrExhausted = errors.New("portpool: no passive port available")

type slot struct {
	port  int
	inUse bool
}

// Pool is a thread-safe allocator over a fixed list of ports.
//
// An empty pool behaves like a single 0 entry: every Reserve succeeds and
// returns port 0, meaning the caller should bind an ephemeral port.
type Pool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []slot
}

// New creates a pool from the configured port list. Duplicate entries are
// kept as distinct slots; a 0 entry makes the pool partially unrestricted.
func New(ports []int) *Pool {
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	for _, port := range ports {
		p.slots = append(p.slots, slot{port: port})
	}
	return p
}

// Reserve scans for the first free port and marks it in use.
// It never blocks. A 0 result with ok=true means "use an ephemeral port";
// ok=false means every configured port is currently reserved.
func (p *Pool) Reserve() (port int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserveLocked()
}

func (p *Pool) reserveLocked() (int, bool) {
	if len(p.slots) == 0 {
		return 0, true
	}
	for i := range p.slots {
		if p.slots[i].port == 0 {
			// Unrestricted entry, nothing to track.
			return 0, true
		}
		if !p.slots[i].inUse {
			p.slots[i].inUse = true
			return p.slots[i].port, true
		}
	}
	return 0, false
}

// ReserveWait behaves like Reserve but, on exhaustion, waits for a Release
// and retries up to retries times, at most interval per attempt. It returns
// ErrExhausted once the retry budget is spent, so a PASV command fails fast
// instead of hanging its session.
func (p *Pool) ReserveWait(retries int, interval time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if port, ok := p.reserveLocked(); ok {
			return port, nil
		}
		if attempt >= retries {
			return 0, ErrExhausted
		}
		timer := time.AfterFunc(interval, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
	}
}

// Release returns a port to the pool and wakes any waiter. Releasing a port
// that is not tracked (including 0) is a no-op, so callers may release
// unconditionally during teardown.
func (p *Pool) Release(port int) {
	if port == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		if p.slots[i].port == port && p.slots[i].inUse {
			p.slots[i].inUse = false
			p.cond.Broadcast()
			return
		}
	}
}

// Len reports the number of configured slots.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// InUse reports how many nonzero ports are currently reserved.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := range p.slots {
		if p.slots[i].inUse {
			n++
		}
	}
	return n
}

// Range builds the inclusive port list [min, max] for New. It is a
// convenience for range-based configuration.
func Range(min, max int) []int {
	if min <= 0 || max < min {
		return nil
	}
	ports := make([]int, 0, max-min+1)
	for port := min; port <= max; port++ {
		ports = append(ports, port)
	}
	return ports
}
