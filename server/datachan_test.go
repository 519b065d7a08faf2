package server

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ftpd-project/ftpd/internal/portpool"
)

func TestDataChannelPassiveRoundTrip(t *testing.T) {
	t.Parallel()

	d := newDataChannel(portpool.New(nil), nil, time.Minute)
	defer d.Dispose()

	port, err := d.SetPassive("127.0.0.1")
	fatalIfErr(t, err, "set passive")
	if port == 0 {
		t.Fatal("advertised port must be the bound one, not 0")
	}

	go func() {
		conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := d.Open(nil)
	fatalIfErr(t, err, "open passive")
	conn.Close()
}

func TestDataChannelReconfigureReleasesListener(t *testing.T) {
	t.Parallel()

	d := newDataChannel(portpool.New(nil), nil, time.Minute)
	defer d.Dispose()

	port1, err := d.SetPassive("127.0.0.1")
	fatalIfErr(t, err, "first set passive")

	// Switching modes closes the previous listener; its port becomes
	// bindable again.
	d.SetActive("127.0.0.1", 20000)

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port1)))
	fatalIfErr(t, err, "rebind released passive port")
	ln.Close()
}

func TestDataChannelOpenWithoutSetup(t *testing.T) {
	t.Parallel()

	d := newDataChannel(portpool.New(nil), nil, time.Minute)
	if _, err := d.Open(nil); err == nil {
		t.Fatal("open without PORT/PASV must fail")
	}
}

func TestDataChannelIdleTimeout(t *testing.T) {
	t.Parallel()

	d := newDataChannel(portpool.New(nil), nil, 50*time.Millisecond)
	defer d.Dispose()

	now := time.Now()
	if d.IdleTimeout(now) {
		t.Error("unconfigured channel reported idle")
	}

	_, err := d.SetPassive("127.0.0.1")
	fatalIfErr(t, err, "set passive")

	if d.IdleTimeout(now) {
		t.Error("fresh reservation reported idle")
	}
	if !d.IdleTimeout(now.Add(time.Second)) {
		t.Error("stale reservation not reported idle")
	}

	d.Dispose()
	if d.IdleTimeout(now.Add(time.Hour)) {
		t.Error("disposed channel reported idle")
	}
}

func TestDataChannelDisposeIdempotent(t *testing.T) {
	t.Parallel()

	pool := portpool.New(portpool.Range(40000, 40004))
	d := newDataChannel(pool, nil, time.Minute)

	if _, err := d.SetPassive("127.0.0.1"); err != nil {
		t.Skipf("port range unavailable in this environment: %v", err)
	}
	if pool.InUse() != 1 {
		t.Fatalf("pool in use: %d, want 1", pool.InUse())
	}

	d.Dispose()
	d.Dispose()
	if pool.InUse() != 0 {
		t.Errorf("pool in use after double dispose: %d, want 0", pool.InUse())
	}
}
