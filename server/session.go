package server

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ftpd-project/ftpd/internal/ratelimit"
)

// MaxCommandLength is the maximum length of a control-channel command line.
const MaxCommandLength = 4096

// session is one control connection's state, driven to completion by its
// own goroutine. The registry sweep and administrative kick touch it from
// outside, so cross-goroutine fields sit behind s.mu or atomics; everything
// else belongs to the dispatch loop alone.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	tnet   *telnetReader
	mu     sync.Mutex // Protects conn, reader, writer and login state

	id          string
	remoteIP    string
	connectedAt time.Time
	lastAccess  atomic.Int64 // unix nanos, touched per command and transfer chunk
	stopped     atomic.Bool

	// Login state
	loggedIn    bool
	user        string
	pendingUser string
	host        string // from HOST, recorded before login
	anonymous   bool
	userRec     User
	fs          ClientContext

	// Transfer parameters
	transferType  string // A or I, default I
	restartOffset int64
	renameFrom    string
	selectedHash  string
	prot          string // PROT P or C

	// maxIdle is this session's idle budget in nanoseconds; 0 means never
	// time out. Atomic: the login handler rewrites it from a user record
	// while the sweep goroutine reads it.
	maxIdle atomic.Int64

	// attrs is extension storage for command handlers.
	attrs map[string]any

	// PASV hostname resolution cache.
	lastPublicHost string
	resolvedIP     net.IP

	// limiter is this session's share of the per-user bandwidth cap.
	// nil means unlimited; ratelimit wrappers pass through.
	limiter *ratelimit.Limiter

	data *dataChannel

	// cmdReq gates the reader goroutine: it reads the next line only
	// after the dispatch loop signals that the current handler returned.
	cmdReq chan struct{}

	teardownOnce sync.Once
}

func newSession(server *Server, conn net.Conn) *session {
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}

	tr := newTelnetReader(conn)

	s := &session{
		server:       server,
		conn:         conn,
		reader:       bufio.NewReader(tr),
		writer:       bufio.NewWriter(conn),
		tnet:         tr,
		id:           uuid.NewString(),
		remoteIP:     remoteIP,
		connectedAt:  time.Now(),
		transferType: "I",
		selectedHash: "SHA-256",
		prot:         "C",
		limiter:      ratelimit.New(server.bandwidthPerUser),
		attrs:        make(map[string]any),
		data:         newDataChannel(server.pasvPool, server.activeLocalAddr, server.maxIdleTime),
		cmdReq:       make(chan struct{}),
	}
	s.maxIdle.Store(int64(server.maxIdleTime))
	s.touch()

	// Implicit TLS: data channel defaults to private.
	if _, ok := conn.(*tls.Conn); ok {
		s.prot = "P"
	}
	return s
}

type command struct {
	line string
	err  error
}

// serve runs the control loop: read a line, dispatch, reply, repeat.
//
// A dedicated goroutine reads commands and hands them over a channel; the
// loop signals it after each handler returns. That handshake keeps command
// handling strictly sequential per session and lets handlers that swap the
// reader/writer (AUTH TLS) do so without racing the reader goroutine. Kick
// and idle-timeout close the socket from outside, which surfaces here as a
// read error and unwinds through the same teardown as a natural EOF.
func (s *session) serve() {
	defer s.server.registry.close(s)

	s.reply(220, s.server.welcomeMessage)

	s.server.logger.Info("session_started",
		"session_id", s.id,
		"remote_ip", s.redactIP(s.remoteIP),
	)

	done := make(chan struct{})
	defer close(done)

	cmdChan := s.startCommandReader(done)

	for {
		cmd, ok := <-cmdChan
		if !ok {
			return
		}

		if cmd.err != nil {
			if cmd.err == errLineTooLong {
				s.reply(500, "Command line too long.")
			} else if cmd.err != io.EOF && !s.stopped.Load() {
				s.server.logger.Warn("control read error",
					"session_id", s.id,
					"remote_ip", s.redactIP(s.remoteIP),
					"user", s.currentUser(),
					"error", cmd.err,
				)
			}
			return
		}

		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
		}

		quit := s.handleLine(cmd.line)

		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}

		s.touch()
		s.server.registry.notifyUpdated(s.info())

		if quit {
			return
		}

		select {
		case s.cmdReq <- struct{}{}:
		case <-time.After(time.Second):
		}
	}
}

func (s *session) startCommandReader(done chan struct{}) chan command {
	cmdChan := make(chan command)
	go func() {
		defer close(cmdChan)
		for {
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()

			deadline := s.server.readTimeout
			if deadline <= 0 {
				deadline = time.Duration(s.maxIdle.Load())
			}
			if deadline > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(deadline))
			}

			line, err := s.readCommand()

			select {
			case cmdChan <- command{line, err}:
			case <-done:
				return
			}

			if err != nil {
				return
			}

			select {
			case <-s.cmdReq:
			case <-done:
				return
			}
		}
	}()
	return cmdChan
}

var errLineTooLong = fmt.Errorf("command line too long")

// readCommand reads one line, bounded by MaxCommandLength. The reader is
// fetched under the lock because AUTH TLS replaces it mid-session.
func (s *session) readCommand() (string, error) {
	var line []byte
	for {
		s.mu.Lock()
		r := s.reader
		s.mu.Unlock()

		b, err := r.ReadByte()
		if err != nil {
			return string(line), err
		}
		if len(line) >= MaxCommandLength {
			return "", errLineTooLong
		}
		if b == '\n' {
			return string(line), nil
		}
		line = append(line, b)
	}
}

// handleLine parses and dispatches one command line. It returns true when
// the session should close (QUIT).
func (s *session) handleLine(line string) bool {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return false
	}

	// Some historical clients leave a stray junk byte in front of the
	// verb; strip one leading non-letter character for compatibility.
	if line[0] < 'A' || (line[0] > 'Z' && line[0] < 'a') || line[0] > 'z' {
		line = line[1:]
		if line == "" {
			return false
		}
	}

	verb, arg := splitCommand(line)

	logArg := arg
	if verb == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command received",
		"session_id", s.id,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.currentUser(),
		"cmd", verb,
		"arg", logArg,
	)

	if verb == "QUIT" {
		s.reply(221, "Service closing control connection.")
		return true
	}

	if !s.isLoggedIn() && !preLoginAllowed[verb] {
		s.reply(530, "Please login with USER and PASS.")
		return false
	}

	s.dispatch(verb, arg)
	return false
}

// splitCommand splits a line into an uppercased verb and its argument.
func splitCommand(line string) (string, string) {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return strings.ToUpper(line[:i]), line[i+1:]
	}
	return strings.ToUpper(line), ""
}

// dispatch resolves the verb against the command table and invokes the
// handler. A handler panic is recovered and converted into an error reply;
// only control-socket failures may end the session.
func (s *session) dispatch(verb, arg string) {
	handler, ok := commandTable[verb]
	if !ok {
		s.reply(502, "Command not implemented.")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.server.logger.Error("command handler panic",
				"session_id", s.id,
				"cmd", verb,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			s.reply(550, "Requested action aborted: local error in processing.")
		}
	}()

	handler(s, arg)
}

// stop forcibly unwinds the session from another goroutine (kick, idle
// sweep). Only thread-safe operations here: an atomic flag, socket close
// and the data channel's own locking.
func (s *session) stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	conn.Close()
	s.data.Dispose()
}

// teardown releases everything the session owns. Each step is guarded so a
// failure in one cannot block the others; errors are aggregated for the
// log. Runs exactly once, whichever exit path gets here first.
func (s *session) teardown() {
	s.teardownOnce.Do(func() {
		var errs *multierror.Error

		s.data.Dispose()

		s.mu.Lock()
		fs := s.fs
		s.fs = nil
		s.mu.Unlock()
		if fs != nil {
			if err := fs.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close filesystem view: %w", err))
			}
		}

		s.mu.Lock()
		if s.writer != nil {
			if err := s.writer.Flush(); err != nil && err != io.ErrShortWrite {
				errs = multierror.Append(errs, fmt.Errorf("flush control writer: %w", err))
			}
		}
		s.mu.Unlock()

		if err := s.conn.Close(); err != nil && !s.stopped.Load() {
			errs = multierror.Append(errs, fmt.Errorf("close control socket: %w", err))
		}

		if err := errs.ErrorOrNil(); err != nil {
			s.server.logger.Debug("session teardown",
				"session_id", s.id,
				"error", err,
			)
		}

		s.server.logger.Info("session_closed",
			"session_id", s.id,
			"remote_ip", s.redactIP(s.remoteIP),
			"user", s.currentUser(),
		)
	})
}

// touch refreshes the idle clock. Called per command and per data chunk.
func (s *session) touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

// idleTimeout reports whether the session exceeded its idle budget.
// A budget of 0 means the sweep never closes it.
func (s *session) idleTimeout(now time.Time) bool {
	budget := time.Duration(s.maxIdle.Load())
	if budget <= 0 {
		return false
	}
	last := time.Unix(0, s.lastAccess.Load())
	return now.Sub(last) > budget
}

func (s *session) isLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *session) wasLoggedIn() bool { return s.isLoggedIn() }

func (s *session) isAnonymous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anonymous
}

func (s *session) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// info snapshots the session for observers and the admin surface.
func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:          s.id,
		RemoteAddr:  s.conn.RemoteAddr().String(),
		LocalAddr:   s.conn.LocalAddr().String(),
		User:        s.user,
		Host:        s.host,
		LoggedIn:    s.loggedIn,
		ConnectedAt: s.connectedAt,
		LastAccess:  time.Unix(0, s.lastAccess.Load()),
	}
}

// reply sends a single-line response.
func (s *session) reply(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

// replyLines sends a multi-line response: "NNN-first", continuation lines,
// then the closing "NNN last".
func (s *session) replyLines(code int, first string, lines []string, last string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}
	fmt.Fprintf(s.writer, "%d-%s\r\n", code, first)
	for _, line := range lines {
		fmt.Fprintf(s.writer, " %s\r\n", line)
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, last)
	s.writer.Flush()
}

// replyError maps driver errors to the conventional reply codes.
func (s *session) replyError(err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.reply(550, "File not found.")
	case errors.Is(err, os.ErrPermission):
		s.reply(550, "Permission denied.")
	case errors.Is(err, os.ErrExist):
		s.reply(550, "File already exists.")
	default:
		s.reply(550, "Action failed: "+err.Error())
	}
}
