package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeServer struct{ calls atomic.Int32 }

func (f *fakeServer) IdleSweep() int { f.calls.Add(1); return 0 }

type fakePolicy struct{ calls atomic.Int32 }

func (f *fakePolicy) InactivitySweep() ([]string, error) { f.calls.Add(1); return nil, nil }

func TestLoopSweepsOnInterval(t *testing.T) {
	srv := &fakeServer{}
	pol := &fakePolicy{}
	loop := New(zap.NewNop(), nil, srv, pol, 30*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	if srv.calls.Load() == 0 || pol.calls.Load() == 0 {
		t.Fatalf("expected at least one sweep, got server=%d policy=%d", srv.calls.Load(), pol.calls.Load())
	}
}

func TestLoopExitsOnCancel(t *testing.T) {
	srv := &fakeServer{}
	pol := &fakePolicy{}
	loop := New(zap.NewNop(), nil, srv, pol, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not exit after cancel")
	}
}
