package server

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func fatalIfErr(t *testing.T, err error, format string, args ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf(format+": %v", append(args, err)...)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer starts a server on a loopback listener backed by an
// in-memory filesystem with writable anonymous access. It returns the
// dial address and the backing filesystem for assertions. The server is
// shut down when the test ends.
func newTestServer(t *testing.T, opts ...Option) (string, *Server, afero.Fs) {
	t.Helper()

	backing := afero.NewMemMapFs()
	fatalIfErr(t, backing.MkdirAll("/srv", 0755), "create root")

	driver, err := NewFSDriver("/srv",
		WithBackingFs(backing),
		WithAnonWrite(true),
	)
	fatalIfErr(t, err, "create driver")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "listen")
	addr := ln.Addr().String()

	all := append([]Option{
		WithDriver(driver),
		WithLogger(testLogger()),
	}, opts...)

	srv, err := NewServer(addr, all...)
	fatalIfErr(t, err, "create server")

	go func() {
		if err := srv.Serve(ln); err != nil && err != ErrServerClosed {
			t.Logf("server stopped: %v", err)
		}
	}()
	t.Cleanup(func() { srv.Shutdown() })

	return addr, srv, backing
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
