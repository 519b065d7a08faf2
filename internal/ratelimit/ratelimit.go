// Package ratelimit provides a token bucket limiter used to throttle FTP
// data transfers. Both the global server limit and per-user limits are
// built on it; when both apply they chain, so the most restrictive wins.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// Limiter is a token bucket limiter in bytes per second. The bucket holds
// one second worth of tokens, allowing short bursts while keeping the
// average rate. A nil *Limiter is valid and imposes no limit.
type Limiter struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	tokens     float64
	lastUpdate time.Time
}

// New creates a limiter for the given rate. Returns nil (no limit) when
// bytesPerSecond <= 0.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:       rate,
		burst:      rate,
		tokens:     rate,
		lastUpdate: time.Now(),
	}
}

const maxWait = time.Second

// take consumes n tokens, sleeping if the bucket is short. The sleep is
// capped at maxWait so a huge request cannot stall a transfer goroutine
// for long stretches.
func (l *Limiter) take(n int) {
	if l == nil || n <= 0 {
		return
	}

	l.mu.Lock()
	l.refillLocked()

	need := float64(n)
	if l.tokens >= need {
		l.tokens -= need
		l.mu.Unlock()
		return
	}

	short := need - l.tokens
	wait := time.Duration(short / l.rate * float64(time.Second))
	if wait > maxWait {
		wait = maxWait
	}
	l.mu.Unlock()

	time.Sleep(wait)

	l.mu.Lock()
	l.refillLocked()
	if l.tokens >= need {
		l.tokens -= need
	} else {
		l.tokens = 0
	}
	l.mu.Unlock()
}

func (l *Limiter) refillLocked() {
	now := time.Now()
	l.tokens += now.Sub(l.lastUpdate).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastUpdate = now
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader wraps r so reads are throttled by limiter. A nil limiter
// returns r unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// Small chunks keep the observed rate close to the configured one.
	const maxChunk = 8 * 1024
	n := len(p)
	if n > maxChunk {
		n = maxChunk
	}
	r.limiter.take(n)
	return r.r.Read(p[:n])
}

type writer struct {
	w       io.Writer
	limiter *Limiter
}

// NewWriter wraps w so writes are throttled by limiter. A nil limiter
// returns w unchanged.
func NewWriter(w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{w: w, limiter: limiter}
}

func (w *writer) Write(p []byte) (int, error) {
	const maxChunk = 64 * 1024

	written := 0
	for written < len(p) {
		chunk := len(p) - written
		if chunk > maxChunk {
			chunk = maxChunk
		}
		// Tokens are consumed before the write to apply backpressure.
		w.limiter.take(chunk)
		n, err := w.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
