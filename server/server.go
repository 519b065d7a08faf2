package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ftpd-project/ftpd/internal/portpool"
	"github.com/ftpd-project/ftpd/internal/ratelimit"
)

// Server is the FTP server.
//
// It listens for control connections and runs each one in its own
// goroutine. Passive data ports come from a shared pool, live sessions
// are tracked in a registry that an idle sweeper and the administrative
// surface (Sessions, Kick) operate on, and transfer counters accumulate
// in Stats.
//
// Lifecycle:
//  1. Create with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Stop with Shutdown(), which closes the listener and every live
//     connection, control and data alike.
//
// Basic example:
//
//	driver, _ := server.NewFSDriver("/srv/ftp")
//	s, err := server.NewServer(":21", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	// addr is the TCP address to listen on (e.g., ":21").
	addr string

	// driver is the backend for authentication and file operations.
	driver Driver

	// userManager, when set, supplies per-user records (home directory,
	// idle budget, write permission) and the admin account name. The
	// idle sweeper also asks it to reload its backing store.
	userManager UserManager

	// restrictor, when set, is consulted before a connection is accepted
	// into a session.
	restrictor IPRestrictor

	logger *slog.Logger

	// tlsConfig enables AUTH TLS and PROT P. If nil, TLS is refused.
	tlsConfig *tls.Config

	// implicitTLS wraps every accepted connection in TLS before the
	// banner, instead of waiting for AUTH.
	implicitTLS bool

	welcomeMessage string

	// serverName is the system type returned by SYST when it is not the
	// runtime default.
	serverName string

	// maxIdleTime is the idle budget applied to sessions that carry no
	// per-user override. 0 disables the idle sweep for them.
	maxIdleTime time.Duration

	// readTimeout / writeTimeout are per-operation deadlines on the
	// control connection. 0 means none.
	readTimeout  time.Duration
	writeTimeout time.Duration

	// sweepInterval is how often the registry reaps idle sessions and
	// stale data-channel reservations.
	sweepInterval time.Duration

	// Connection and login limits. 0 means unlimited.
	maxConnections      int
	maxConnectionsPerIP int
	maxLogins           int
	maxAnonLogins       int

	// pasvPool allocates passive data ports. An unbounded pool hands out
	// ephemeral ports.
	pasvPool *portpool.Pool

	// passivePublicHost is advertised in PASV replies when the driver's
	// settings do not name one. Empty falls back to the control
	// connection's local address.
	passivePublicHost string

	// activeLocalAddr, when set, is the local address active-mode data
	// connections dial from (conventionally port 20).
	activeLocalAddr *net.TCPAddr

	// bandwidthPerUser caps each session's transfer rate in bytes per
	// second; globalLimiter caps the whole server. 0 / nil mean no cap.
	bandwidthPerUser int64
	globalLimiter    *ratelimit.Limiter

	// Log privacy: redactIPs masks the last IP component, pathRedactor
	// rewrites file paths. Both apply to slog output only, never to
	// protocol replies.
	redactIPs    bool
	pathRedactor PathRedactor

	// transferLog, when set, receives one wu-ftpd style xferlog line per
	// completed transfer.
	transferLog io.Writer

	stats    *Stats
	registry *registry
	notifier *notifier

	// activeConns counts sessions for the global limit check.
	activeConns atomic.Int32

	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// Shutdown handling.
	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after a call to
// Shutdown.
var ErrServerClosed = errors.New("ftp: Server closed")

// NewServer creates an FTP server for the given address. The driver is
// mandatory; everything else has a default. The zero configuration is an
// anonymous-friendly server with ephemeral passive ports, a five minute
// idle budget and a one minute sweep.
func NewServer(addr string, options ...Option) (*Server, error) {
	n := newNotifier()
	s := &Server{
		addr:           addr,
		logger:         slog.Default(),
		welcomeMessage: "FTP Server Ready",
		serverName:     defaultServerName(),
		maxIdleTime:    5 * time.Minute,
		sweepInterval:  time.Minute,
		pasvPool:       portpool.New(nil),
		notifier:       n,
		stats:          newStats(n),
		connsByIP:      make(map[string]int32),
		conns:          make(map[net.Conn]struct{}),
	}
	s.registry = newRegistry(s.stats, n, s.logger)

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	// Options may have replaced the logger.
	s.registry.logger = s.logger

	if s.driver == nil {
		return nil, fmt.Errorf("driver is required (use WithDriver option)")
	}
	if s.implicitTLS && s.tlsConfig == nil {
		return nil, fmt.Errorf("implicit TLS requires a TLS configuration")
	}

	return s, nil
}

// ListenAndServe starts the server on the configured address and blocks
// until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Addr returns the control listener's address, or nil before Serve.
// Useful with ":0" listeners.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections on l until the listener is closed. Each
// accepted connection is screened against the IP restrictor and the
// connection limits, then handed to a session goroutine.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	s.registry.startSweep(s.sweepInterval, s.userManager)
	defer s.registry.stopSweep()
	defer s.notifier.stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// Shutdown stops the server: it closes the listener and every tracked
// connection. Sessions unwind through their usual teardown when their
// socket read fails.
func (s *Server) Shutdown() error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for conn := range conns {
		conn.Close()
	}

	return err
}

// Sessions returns a snapshot of every live session.
func (s *Server) Sessions() []SessionInfo {
	sessions := s.registry.all()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.info())
	}
	return out
}

// Kick forcibly closes the session with the given id. It reports whether
// a session with that id was live.
func (s *Server) Kick(id string) bool {
	return s.registry.kick(id)
}

// Stats returns a point-in-time copy of the server counters.
func (s *Server) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// AddConnectionObserver registers an observer for session lifecycle
// events. Callbacks run on the server's event goroutine, never under a
// registry lock.
func (s *Server) AddConnectionObserver(o ConnectionObserver) {
	s.registry.addObserver(o)
}

// AddStatsObserver registers an observer for counter changes.
func (s *Server) AddStatsObserver(o StatsObserver) {
	s.stats.AddObserver(o)
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteIP := connIP(conn)

	if s.restrictor != nil && !s.restrictor.HasPermission(remoteIP) {
		s.logger.Warn("connection_rejected",
			"remote_ip", s.redactIP(remoteIP),
			"reason", "ip_restricted",
		)
		fmt.Fprintf(conn, "421 Service not available.\r\n")
		conn.Close()
		return
	}

	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		s.logger.Warn("connection_rejected",
			"remote_ip", s.redactIP(remoteIP),
			"reason", "global_limit_reached",
			"limit", s.maxConnections,
		)
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}

	if !s.acquireIPSlot(remoteIP) {
		s.logger.Warn("connection_rejected",
			"remote_ip", s.redactIP(remoteIP),
			"reason", "per_ip_limit_reached",
			"limit", s.maxConnectionsPerIP,
		)
		fmt.Fprintf(conn, "421 Too many connections from your IP address.\r\n")
		conn.Close()
		return
	}
	defer s.releaseIPSlot(remoteIP)

	if !s.trackConn(conn, true) {
		conn.Close()
		return
	}
	defer s.trackConn(conn, false)

	if s.implicitTLS {
		tlsConn := tls.Server(conn, s.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			s.logger.Warn("implicit TLS handshake failed",
				"remote_ip", s.redactIP(remoteIP),
				"error", err,
			)
			tlsConn.Close()
			return
		}
		conn = tlsConn
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	session := newSession(s, conn)
	s.registry.open(session)
	session.serve()
}

// acquireIPSlot counts a control connection against the per-IP limit.
// Data connections never consume slots, so a session mid-transfer holds
// exactly one. The check and increment run under one lock.
func (s *Server) acquireIPSlot(ip string) bool {
	if s.maxConnectionsPerIP <= 0 {
		return true
	}
	s.connsByIPMu.Lock()
	defer s.connsByIPMu.Unlock()
	if s.connsByIP[ip] >= int32(s.maxConnectionsPerIP) {
		return false
	}
	s.connsByIP[ip]++
	return true
}

func (s *Server) releaseIPSlot(ip string) {
	if s.maxConnectionsPerIP <= 0 {
		return
	}
	s.connsByIPMu.Lock()
	defer s.connsByIPMu.Unlock()
	s.connsByIP[ip]--
	if s.connsByIP[ip] <= 0 {
		delete(s.connsByIP, ip)
	}
}

// trackConn records a connection, control or data, for shutdown. It
// returns false while shutting down.
func (s *Server) trackConn(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.inShutdown.Load() {
			return false
		}
		s.conns[conn] = struct{}{}
		return true
	}

	delete(s.conns, conn)
	return true
}

// defaultServerName is the SYST system type when no option overrides it.
func defaultServerName() string {
	if runtime.GOOS == "windows" {
		return "Windows_NT"
	}
	return "UNIX Type: L8"
}

func connIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return ip
}
