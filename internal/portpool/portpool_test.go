package portpool

import (
	"testing"
	"time"
)

func TestReserveRelease(t *testing.T) {
	t.Parallel()
	p := New([]int{30000, 30001})

	p1, ok := p.Reserve()
	if !ok || p1 != 30000 {
		t.Fatalf("Reserve() = %d, %v; want 30000, true", p1, ok)
	}
	p2, ok := p.Reserve()
	if !ok || p2 != 30001 {
		t.Fatalf("Reserve() = %d, %v; want 30001, true", p2, ok)
	}
	if _, ok := p.Reserve(); ok {
		t.Fatal("Reserve() succeeded on exhausted pool")
	}

	p.Release(p1)
	p3, ok := p.Reserve()
	if !ok || p3 != 30000 {
		t.Fatalf("Reserve() after release = %d, %v; want 30000, true", p3, ok)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()
	p := New([]int{30000})

	port, _ := p.Reserve()
	p.Release(port)
	p.Release(port) // double release must not corrupt the slot
	p.Release(9999) // unknown port is a no-op
	p.Release(0)

	if got := p.InUse(); got != 0 {
		t.Errorf("InUse() = %d, want 0", got)
	}
	if _, ok := p.Reserve(); !ok {
		t.Error("Reserve() failed after double release")
	}
	if _, ok := p.Reserve(); ok {
		t.Error("double release freed the slot twice")
	}
}

func TestZeroPortUnrestricted(t *testing.T) {
	t.Parallel()
	p := New([]int{0})
	for i := 0; i < 10; i++ {
		port, ok := p.Reserve()
		if !ok || port != 0 {
			t.Fatalf("Reserve() = %d, %v; want 0, true", port, ok)
		}
	}
	if got := p.InUse(); got != 0 {
		t.Errorf("InUse() = %d, want 0; zero entries are never tracked", got)
	}
}

func TestEmptyPoolIsEphemeral(t *testing.T) {
	t.Parallel()
	p := New(nil)
	port, ok := p.Reserve()
	if !ok || port != 0 {
		t.Fatalf("Reserve() on empty pool = %d, %v; want 0, true", port, ok)
	}
}

func TestReserveWaitExhausted(t *testing.T) {
	t.Parallel()
	p := New([]int{30000})
	if _, err := p.ReserveWait(0, time.Millisecond); err != nil {
		t.Fatalf("first ReserveWait failed: %v", err)
	}

	start := time.Now()
	_, err := p.ReserveWait(3, 10*time.Millisecond)
	if err != ErrExhausted {
		t.Fatalf("ReserveWait on exhausted pool: err = %v, want ErrExhausted", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("bounded wait took %v, not bounded", elapsed)
	}
}

func TestReserveWaitUnblocksOnRelease(t *testing.T) {
	t.Parallel()
	p := New([]int{30000})
	port, _ := p.Reserve()

	got := make(chan int, 1)
	go func() {
		p2, err := p.ReserveWait(50, 20*time.Millisecond)
		if err != nil {
			t.Errorf("ReserveWait: %v", err)
		}
		got <- p2
	}()

	time.Sleep(30 * time.Millisecond)
	p.Release(port)

	select {
	case p2 := <-got:
		if p2 != 30000 {
			t.Errorf("ReserveWait = %d, want 30000", p2)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReserveWait did not wake after Release")
	}
}

func TestRange(t *testing.T) {
	t.Parallel()
	ports := Range(30000, 30002)
	if len(ports) != 3 || ports[0] != 30000 || ports[2] != 30002 {
		t.Errorf("Range(30000, 30002) = %v", ports)
	}
	if Range(0, 10) != nil {
		t.Error("Range with min 0 should be nil")
	}
	if Range(10, 5) != nil {
		t.Error("inverted Range should be nil")
	}
}
