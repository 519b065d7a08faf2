package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ftpd-project/ftpd/internal/portpool"
	"github.com/ftpd-project/ftpd/internal/ratelimit"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithDriver sets the backend driver for authentication and file
// operations. This option is required and can only be set once.
//
// Example:
//
//	driver, _ := server.NewFSDriver("/srv/ftp")
//	s, _ := server.NewServer(":21", server.WithDriver(driver))
func WithDriver(driver Driver) Option {
	return func(s *Server) error {
		if s.driver != nil {
			return fmt.Errorf("driver already set")
		}
		s.driver = driver
		return nil
	}
}

// WithUserManager attaches a user store. Sessions authenticated through
// the driver pick up per-user home directories, idle budgets and write
// permissions from it, SITE WHO/KICK/STATS are gated on its admin
// account, and the idle sweeper reloads it periodically.
func WithUserManager(um UserManager) Option {
	return func(s *Server) error {
		s.userManager = um
		return nil
	}
}

// WithIPRestrictor screens client addresses before a session is created.
// Rejected connections receive a 421 and are closed.
func WithIPRestrictor(r IPRestrictor) Option {
	return func(s *Server) error {
		s.restrictor = r
		return nil
	}
}

// WithTLS enables TLS (FTPS) with the provided configuration.
//
// For Explicit FTPS (recommended, port 21) the client upgrades with
// AUTH TLS:
//
//	cert, _ := tls.LoadX509KeyPair("server.crt", "server.key")
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithTLS(&tls.Config{
//	        Certificates: []tls.Certificate{cert},
//	        MinVersion:   tls.VersionTLS12,
//	    }),
//	)
func WithTLS(config *tls.Config) Option {
	return func(s *Server) error {
		s.tlsConfig = config
		return nil
	}
}

// WithImplicitTLS wraps every accepted connection in TLS before the
// banner (legacy FTPS, conventionally port 990). Requires WithTLS.
func WithImplicitTLS(enable bool) Option {
	return func(s *Server) error {
		s.implicitTLS = enable
		return nil
	}
}

// WithLogger sets a custom logger. If not specified, slog.Default() is
// used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithWelcomeMessage overrides the text of the 220 greeting.
func WithWelcomeMessage(message string) Option {
	return func(s *Server) error {
		s.welcomeMessage = message
		return nil
	}
}

// WithMaxIdleTime sets the default idle budget for sessions. Per-user
// records from the user manager override it. 0 disables the idle sweep.
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = duration
		return nil
	}
}

// WithReadTimeout sets a per-read deadline on control connections.
func WithReadTimeout(duration time.Duration) Option {
	return func(s *Server) error {
		s.readTimeout = duration
		return nil
	}
}

// WithWriteTimeout sets a per-command deadline on control replies.
func WithWriteTimeout(duration time.Duration) Option {
	return func(s *Server) error {
		s.writeTimeout = duration
		return nil
	}
}

// WithSweepInterval sets how often idle sessions and stale passive
// reservations are reaped. 0 disables the sweeper entirely.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Server) error {
		s.sweepInterval = interval
		return nil
	}
}

// WithMaxConnections caps simultaneous connections, in total and per
// client IP. 0 means unlimited. Over-limit connections receive a 421.
func WithMaxConnections(total, perIP int) Option {
	return func(s *Server) error {
		s.maxConnections = total
		s.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithMaxLogins caps simultaneous authenticated sessions, in total and
// for anonymous users. 0 means unlimited. Over-limit logins receive a
// 421 at PASS time.
func WithMaxLogins(total, anonymous int) Option {
	return func(s *Server) error {
		s.maxLogins = total
		s.maxAnonLogins = anonymous
		return nil
	}
}

// WithPassivePortRange restricts passive data connections to the
// inclusive port range [min, max]. PASV waits briefly for a free port
// when the range is exhausted before failing with a 425.
func WithPassivePortRange(min, max int) Option {
	return func(s *Server) error {
		if min <= 0 || max < min || max > 65535 {
			return fmt.Errorf("invalid passive port range %d-%d", min, max)
		}
		s.pasvPool = portpool.New(portpool.Range(min, max))
		return nil
	}
}

// WithPassivePublicHost sets the address advertised in PASV replies, for
// servers behind NAT. The driver's per-user settings take precedence.
func WithPassivePublicHost(host string) Option {
	return func(s *Server) error {
		s.passivePublicHost = host
		return nil
	}
}

// WithActiveLocalAddr sets the local address active-mode (PORT) data
// connections dial from, conventionally port 20.
func WithActiveLocalAddr(addr string) Option {
	return func(s *Server) error {
		tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return fmt.Errorf("invalid active local address %q: %w", addr, err)
		}
		s.activeLocalAddr = tcpAddr
		return nil
	}
}

// WithBandwidthLimits caps transfer rates in bytes per second: perUser
// applies to each session independently, global to the server as a
// whole. 0 disables the respective cap.
func WithBandwidthLimits(perUser, global int64) Option {
	return func(s *Server) error {
		if perUser < 0 || global < 0 {
			return fmt.Errorf("bandwidth limits must be non-negative")
		}
		s.bandwidthPerUser = perUser
		s.globalLimiter = ratelimit.New(global)
		return nil
	}
}

// WithTransferLog directs one wu-ftpd style xferlog line per completed
// transfer to w.
// WithRedactIPs masks the last component of client IP addresses in log
// output.
func WithRedactIPs(enabled bool) Option {
	return func(s *Server) error {
		s.redactIPs = enabled
		return nil
	}
}

// WithPathRedactor installs a function that rewrites file paths before
// they are logged.
func WithPathRedactor(r PathRedactor) Option {
	return func(s *Server) error {
		s.pathRedactor = r
		return nil
	}
}

func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error {
		s.transferLog = w
		return nil
	}
}
