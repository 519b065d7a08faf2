// Package server implements an embeddable, extensible FTP server.
//
// # Overview
//
// This package provides a modular FTP server implementation that allows you to:
//   - Embed an FTP server into your Go application
//   - Use custom storage backends (Drivers)
//   - Serve files over IPv4 and IPv6
//   - Observe sessions and transfer counters programmatically
//   - Support modern FTP extensions
//
// # Getting Started
//
// The easiest way to start is using the provided FSDriver to serve a local
// directory:
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/ftpd-project/ftpd/server"
//	)
//
//	func main() {
//	    driver, err := server.NewFSDriver("/srv/ftp")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    s, err := server.NewServer(":21", server.WithDriver(driver))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    log.Fatal(s.ListenAndServe())
//	}
//
// # FTPS Support
//
// The server supports both Explicit (AUTH TLS, RFC 4217) and Implicit
// (legacy) FTPS modes.
//
// Explicit FTPS (port 21):
//
//	cert, _ := tls.LoadX509KeyPair("server.crt", "server.key")
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithTLS(&tls.Config{Certificates: []tls.Certificate{cert}}),
//	)
//
// Implicit FTPS (port 990):
//
//	s, _ := server.NewServer(":990",
//	    server.WithDriver(driver),
//	    server.WithTLS(tlsConfig),
//	    server.WithImplicitTLS(true),
//	)
//
// # Custom Drivers
//
// Implement the Driver interface to connect the server to any backend,
// such as cloud storage, an in-memory filesystem, or a database:
//
//	type Driver interface {
//	    Authenticate(user, pass string) (ClientContext, error)
//	}
//
// Authenticate returns a ClientContext, the session's isolated view of
// the filesystem. FSDriver is a ready-made implementation over any afero
// filesystem; afero.NewMemMapFs() with WithBackingFs gives a throwaway
// in-memory server for tests.
//
// # User Accounts
//
// For named accounts, attach a UserManager. JSONUserManager persists
// bcrypt-hashed credentials to a single JSON file and supplies per-user
// home directories, idle budgets and write permissions:
//
//	users, _ := server.NewJSONUserManager("/etc/ftpd/users.json", "admin")
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithUserManager(users),
//	)
//
// The admin account may run SITE WHO, SITE KICK and SITE STATS on a live
// server.
//
// # Passive Mode Configuration
//
// Behind NAT or in containers, pin the passive port range and the
// advertised address:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithPassivePortRange(30000, 30100),
//	    server.WithPassivePublicHost("ftp.example.com"),
//	)
//
// Configure your firewall to allow incoming connections on the passive
// range. Without a range the server hands out ephemeral ports.
//
// # Limits and Observability
//
// Connection, login and bandwidth limits:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100, 10), // 100 total, 10 per IP
//	    server.WithMaxLogins(50, 20),       // 50 logins, 20 anonymous
//	    server.WithBandwidthLimits(1<<20, 0),
//	    server.WithMaxIdleTime(10*time.Minute),
//	)
//
// Live sessions are available through Sessions and can be closed with
// Kick. Counters accumulate in Stats. ConnectionObserver and
// StatsObserver receive change events on a dedicated goroutine, so a
// slow observer never stalls a session.
//
// # RFC Compliance
//
// This server implements the following RFCs:
//   - RFC 959 (Base FTP)
//   - RFC 1123 (Requirements for Internet Hosts - minimum implementation)
//   - RFC 2389 (Feature Negotiation)
//   - RFC 2428 (IPv6 / NAT: EPRT, EPSV)
//   - RFC 3659 (Extensions: SIZE, MDTM, MLSD, MLST, REST)
//   - RFC 4217 (Securing FTP with TLS)
//   - draft-somers-ftp-mfxx (MFMT Command)
//   - draft-bryan-ftp-hash (HASH Command)
package server
