package portvis

import (
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
)

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()
	return port
}

func TestSetVisibilityRSTOnAccept(t *testing.T) {
	s := New(zap.NewNop(), nil, 50*time.Millisecond)
	port := freePort(t)

	s.SetVisibility(port, false)
	defer s.Close()

	// Give the worker a moment to bind.
	time.Sleep(100 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", addrFor(port), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(buf)
	if err == nil {
		t.Fatalf("expected connection reset, got a successful read")
	}
}

func TestSetVisibilityActiveStopsWorker(t *testing.T) {
	s := New(zap.NewNop(), nil, 50*time.Millisecond)
	port := freePort(t)

	s.SetVisibility(port, false)
	time.Sleep(100 * time.Millisecond)
	s.SetVisibility(port, true)

	s.mu.Lock()
	_, running := s.workers[port]
	s.mu.Unlock()
	if running {
		t.Fatalf("expected worker to be stopped")
	}
}

func TestSyncAllReconciles(t *testing.T) {
	s := New(zap.NewNop(), nil, 50*time.Millisecond)
	p1, p2 := freePort(t), freePort(t)
	defer s.Close()

	s.SyncAll([]int{p1, p2})
	time.Sleep(100 * time.Millisecond)
	s.mu.Lock()
	if len(s.workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(s.workers))
	}
	s.mu.Unlock()

	s.SyncAll([]int{p1})
	time.Sleep(100 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workers) != 1 {
		t.Fatalf("expected 1 worker after reconcile, got %d", len(s.workers))
	}
	if _, ok := s.workers[p1]; !ok {
		t.Fatalf("expected p1 worker to remain running")
	}
}

func addrFor(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
