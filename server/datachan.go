package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ftpd-project/ftpd/internal/portpool"
)

// poolRetries bounds how long a PASV command waits for a free passive
// port before failing with 425.
const (
	poolRetries      = 3
	poolRetryWait    = 500 * time.Millisecond
	dataDialTimeout  = 10 * time.Second
	dataAcceptWindow = 10 * time.Second
)

type dataMode int

const (
	dataModeNone dataMode = iota
	dataModeActive
	dataModePassive
)

// dataChannel manages a session's single data connection. It is configured
// by PORT/EPRT (active) or PASV/EPSV (passive), opened once by the next
// transfer command, and torn down either by Dispose or by the next
// configuration command.
//
// Invariant: at most one data socket per session. Reconfiguring always
// closes the previous listener and returns any reserved passive port to
// the pool first; a listener left open would silently leak a pool slot.
//
// The owning session drives it from the dispatch loop; the registry sweep
// may call IdleTimeout and Dispose from its own goroutine, so every method
// takes the mutex.
type dataChannel struct {
	mu sync.Mutex

	mode dataMode

	// Active mode target.
	remoteHost string
	remotePort int

	// Passive mode listener and its pool reservation.
	listener net.Listener
	pasvPort int
	reserved bool

	pool      *portpool.Pool
	localAddr *net.TCPAddr // optional bind address for active dials

	// requestTime is nonzero between a PORT/PASV and the matching Open.
	// It detects clients that announce a data connection and never use it.
	requestTime time.Time
	idleLimit   time.Duration
}

func newDataChannel(pool *portpool.Pool, localAddr *net.TCPAddr, idleLimit time.Duration) *dataChannel {
	return &dataChannel{
		pool:      pool,
		localAddr: localAddr,
		idleLimit: idleLimit,
	}
}

// SetActive records the client's PORT/EPRT target, tearing down any prior
// mode first.
func (d *dataChannel) SetActive(host string, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()

	d.mode = dataModeActive
	d.remoteHost = host
	d.remotePort = port
	d.requestTime = time.Now()
}

// SetPassive reserves a port, binds a listener on bindHost and switches to
// passive mode. On any failure everything is rolled back: the reservation
// is released and the channel returns to the unset state.
func (d *dataChannel) SetPassive(bindHost string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()

	port, err := d.pool.ReserveWait(poolRetries, poolRetryWait)
	if err != nil {
		return 0, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(bindHost, strconv.Itoa(port)))
	if err != nil {
		d.pool.Release(port)
		return 0, fmt.Errorf("bind passive listener: %w", err)
	}

	d.mode = dataModePassive
	d.listener = ln
	d.pasvPort = port
	d.reserved = port != 0
	d.requestTime = time.Now()

	_, boundPort, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		d.teardownLocked()
		return 0, err
	}
	n, _ := strconv.Atoi(boundPort)
	return n, nil
}

// Open establishes the data socket for the configured mode. If tlsConfig
// is non-nil the connection is wrapped and the handshake is driven
// explicitly, so handshake failures surface even for zero-byte transfers.
// Any failure releases all resources.
func (d *dataChannel) Open(tlsConfig *tls.Config) (net.Conn, error) {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()

	switch mode {
	case dataModeActive:
		return d.openActive(tlsConfig)
	case dataModePassive:
		return d.openPassive(tlsConfig)
	default:
		return nil, fmt.Errorf("no data connection setup")
	}
}

func (d *dataChannel) openActive(tlsConfig *tls.Config) (net.Conn, error) {
	d.mu.Lock()
	addr := net.JoinHostPort(d.remoteHost, strconv.Itoa(d.remotePort))
	dialer := net.Dialer{Timeout: dataDialTimeout}
	if d.localAddr != nil {
		dialer.LocalAddr = d.localAddr
	}
	d.mu.Unlock()

	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		d.Dispose()
		return nil, err
	}
	return d.finishOpen(conn, tlsConfig)
}

func (d *dataChannel) openPassive(tlsConfig *tls.Config) (net.Conn, error) {
	d.mu.Lock()
	ln := d.listener
	d.mu.Unlock()
	if ln == nil {
		return nil, fmt.Errorf("passive listener already closed")
	}

	window := d.idleLimit
	if window <= 0 {
		window = dataAcceptWindow
	}
	if t, ok := ln.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(window))
	}

	conn, err := ln.Accept()
	if err != nil {
		d.Dispose()
		return nil, err
	}

	// One connection per reservation: the listener's job is done, but the
	// pool slot stays reserved until Dispose, since the port is still busy.
	d.mu.Lock()
	d.listener = nil
	d.mu.Unlock()
	ln.Close()

	return d.finishOpen(conn, tlsConfig)
}

// finishOpen applies the optional TLS wrap and marks the reservation used.
// The server side of the handshake is ours in both modes (RFC 4217).
func (d *dataChannel) finishOpen(conn net.Conn, tlsConfig *tls.Config) (net.Conn, error) {
	if tlsConfig != nil {
		tlsConn := tls.Server(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			d.Dispose()
			return nil, fmt.Errorf("data connection TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	d.mu.Lock()
	d.requestTime = time.Time{}
	d.mu.Unlock()
	return conn, nil
}

// ReleasePort returns the passive reservation to the pool once the data
// socket itself has closed. Safe to call whether or not a port is held.
func (d *dataChannel) ReleasePort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releasePortLocked()
}

func (d *dataChannel) releasePortLocked() {
	if d.reserved {
		d.pool.Release(d.pasvPort)
		d.reserved = false
	}
	d.pasvPort = 0
}

// IdleTimeout reports whether a PORT/PASV reservation has sat unused past
// the idle limit. It is false once Open succeeded or nothing was requested,
// and always false with no configured limit.
func (d *dataChannel) IdleTimeout(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.requestTime.IsZero() || d.idleLimit <= 0 {
		return false
	}
	return now.Sub(d.requestTime) > d.idleLimit
}

// Dispose fully tears down the channel: closes the listener, releases any
// reserved port and clears the request time. Idempotent.
func (d *dataChannel) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
}

func (d *dataChannel) teardownLocked() {
	if d.listener != nil {
		d.listener.Close()
		d.listener = nil
	}
	d.releasePortLocked()
	d.mode = dataModeNone
	d.remoteHost = ""
	d.remotePort = 0
	d.requestTime = time.Time{}
}
