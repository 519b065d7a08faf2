package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ftpd-project/ftpd/server"
)

func main() {
	var (
		addr       = flag.String("addr", ":2121", "control listen address")
		root       = flag.String("root", ".", "root directory to serve")
		usersFile  = flag.String("users", "", "JSON user store (empty: anonymous only)")
		adminUser  = flag.String("admin", "admin", "account allowed to run SITE WHO/KICK/STATS")
		noAnon     = flag.Bool("no-anonymous", false, "refuse anonymous logins")
		anonWrite  = flag.Bool("anon-write", false, "grant anonymous users write access")
		pasvRange  = flag.String("pasv-range", "", "passive port range, e.g. 30000-30100")
		publicHost = flag.String("public-host", "", "address advertised in PASV replies (for NAT)")
		certFile   = flag.String("cert", "", "TLS certificate for FTPS")
		keyFile    = flag.String("key", "", "TLS key for FTPS")
		implicit   = flag.Bool("implicit-tls", false, "wrap connections in TLS before the banner (port 990 style)")
		maxConns   = flag.Int("max-conns", 0, "max simultaneous connections (0: unlimited)")
		maxPerIP   = flag.Int("max-conns-per-ip", 0, "max simultaneous connections per IP (0: unlimited)")
		maxLogins  = flag.Int("max-logins", 0, "max simultaneous logins (0: unlimited)")
		maxAnon    = flag.Int("max-anon", 0, "max simultaneous anonymous logins (0: unlimited)")
		idle       = flag.Duration("idle", 5*time.Minute, "session idle timeout (0: none)")
		bwUser     = flag.Int64("bw-user", 0, "per-session bandwidth cap, bytes/s (0: unlimited)")
		bwGlobal   = flag.Int64("bw-global", 0, "server-wide bandwidth cap, bytes/s (0: unlimited)")
		xferlog    = flag.String("xferlog", "", "append wu-ftpd style transfer log to this file")
		logJSON    = flag.Bool("log-json", false, "log in JSON instead of text")
		logDebug   = flag.Bool("debug", false, "log at debug level")
		console    = flag.Bool("console", false, "run the interactive admin console")
	)
	flag.Parse()

	logger := newLogger(*logJSON, *logDebug)

	var users *server.JSONUserManager
	if *usersFile != "" {
		var err error
		users, err = server.NewJSONUserManager(*usersFile, *adminUser)
		if err != nil {
			logger.Error("load user store", "error", err)
			os.Exit(1)
		}
	}

	driver, err := buildDriver(*root, *noAnon, *anonWrite, *publicHost, users)
	if err != nil {
		logger.Error("create driver", "error", err)
		os.Exit(1)
	}

	opts := []server.Option{
		server.WithDriver(driver),
		server.WithLogger(logger),
		server.WithMaxIdleTime(*idle),
		server.WithMaxConnections(*maxConns, *maxPerIP),
		server.WithMaxLogins(*maxLogins, *maxAnon),
		server.WithBandwidthLimits(*bwUser, *bwGlobal),
	}
	if users != nil {
		opts = append(opts, server.WithUserManager(users))
	}
	if *publicHost != "" {
		opts = append(opts, server.WithPassivePublicHost(*publicHost))
	}
	if *pasvRange != "" {
		min, max, err := parsePortRange(*pasvRange)
		if err != nil {
			logger.Error("parse passive range", "error", err)
			os.Exit(1)
		}
		opts = append(opts, server.WithPassivePortRange(min, max))
	}
	if *certFile != "" || *keyFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			logger.Error("load TLS keypair", "error", err)
			os.Exit(1)
		}
		opts = append(opts, server.WithTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}))
		if *implicit {
			opts = append(opts, server.WithImplicitTLS(true))
		}
	}
	if *xferlog != "" {
		f, err := os.OpenFile(*xferlog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			logger.Error("open transfer log", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		opts = append(opts, server.WithTransferLog(f))
	}

	srv, err := server.NewServer(*addr, opts...)
	if err != nil {
		logger.Error("create server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	if *console {
		runConsole(srv, users)
		srv.Shutdown()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		srv.Shutdown()
		<-errCh
	case err := <-errCh:
		if err != nil && err != server.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}
}

func newLogger(json, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildDriver wires the filesystem driver: anonymous sessions land in the
// shared root, named users authenticate against the store and land in
// their home directory (falling back to the root when none is set).
func buildDriver(root string, noAnon, anonWrite bool, publicHost string, users *server.JSONUserManager) (*server.FSDriver, error) {
	var driverOpts []server.FSDriverOption
	if publicHost != "" {
		driverOpts = append(driverOpts, server.WithSettings(&server.Settings{PublicHost: publicHost}))
	}

	if users == nil {
		driverOpts = append(driverOpts,
			server.WithDisableAnonymous(noAnon),
			server.WithAnonWrite(anonWrite),
		)
		return server.NewFSDriver(root, driverOpts...)
	}

	driverOpts = append(driverOpts, server.WithAuthenticator(func(user, pass string) (string, bool, error) {
		if strings.EqualFold(user, "anonymous") || strings.EqualFold(user, "ftp") {
			if noAnon {
				return "", false, os.ErrPermission
			}
			return root, !anonWrite, nil
		}
		u, err := users.Authenticate(user, pass)
		if err != nil {
			return "", false, err
		}
		home := u.HomeDir()
		if home == "" {
			home = root
		}
		return home, !u.WriteAllowed(), nil
	}))
	return server.NewFSDriver(root, driverOpts...)
}

func parsePortRange(s string) (int, int, error) {
	var min, max int
	if _, err := fmt.Sscanf(s, "%d-%d", &min, &max); err != nil {
		return 0, 0, fmt.Errorf("expected MIN-MAX, got %q", s)
	}
	return min, max, nil
}
