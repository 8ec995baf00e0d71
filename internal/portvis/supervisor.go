// Package portvis implements the HoneyTrap port visibility supervisor:
// one RST-on-accept worker per port the store records as "inactive", so
// a port scan sees those ports as real, unreachable, closed-by-reset
// services rather than filtered or simply absent.
//
// A map of running listeners keyed by port is torn down and rebuilt as
// the underlying port state changes. The accept loop never sends data
// back to the peer; the connection is reset (SO_LINGER zero-timeout) so
// it looks identical to a genuinely closed port rather than a service
// that accepted and hung up politely.
package portvis

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/honeytrap/gateway/internal/observability"
)

// Supervisor tracks one RST-on-accept worker per port currently marked
// inactive.
type Supervisor struct {
	log          *zap.Logger
	metrics      *observability.Metrics
	pollInterval time.Duration

	mu      sync.Mutex
	workers map[int]*worker
}

type worker struct {
	port   int
	lis    net.Listener
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Supervisor.
func New(log *zap.Logger, metrics *observability.Metrics, pollInterval time.Duration) *Supervisor {
	return &Supervisor{
		log:          log,
		metrics:      metrics,
		pollInterval: pollInterval,
		workers:      make(map[int]*worker),
	}
}

// SyncAll reconciles the running worker set against the desired
// inactive-port set, starting workers for newly-inactive ports and
// stopping workers for ports no longer inactive or no longer present.
// Called at startup; later status changes go through SetVisibility.
func (s *Supervisor) SyncAll(inactivePorts []int) {
	want := make(map[int]bool, len(inactivePorts))
	for _, p := range inactivePorts {
		want[p] = true
	}

	s.mu.Lock()
	var toStart []int
	for p := range want {
		if _, running := s.workers[p]; !running {
			toStart = append(toStart, p)
		}
	}
	var toStop []int
	for p := range s.workers {
		if !want[p] {
			toStop = append(toStop, p)
		}
	}
	s.mu.Unlock()

	for _, p := range toStart {
		s.SetVisibility(p, false)
	}
	for _, p := range toStop {
		s.SetVisibility(p, true)
	}
}

// SetVisibility starts (active=false) or stops (active=true) the
// RST-on-accept worker for a single port. Starting a worker that is
// already running, or stopping one that isn't, is a no-op.
func (s *Supervisor) SetVisibility(port int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active {
		w, ok := s.workers[port]
		if !ok {
			return
		}
		w.cancel()
		<-w.done
		delete(s.workers, port)
		return
	}

	if _, ok := s.workers[port]; ok {
		return
	}

	lis, err := listen(port)
	if err != nil {
		// Bind failure: logged, left in "off" state — the port then
		// looks like a real open port rather than a reset-on-accept one.
		s.log.Warn("port visibility supervisor: bind failed, leaving port in off state",
			zap.Int("port", port), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{port: port, lis: lis, cancel: cancel, done: make(chan struct{})}
	s.workers[port] = w
	go s.run(ctx, w)
}

// listen binds 0.0.0.0:port with SO_REUSEADDR (and SO_REUSEPORT where
// supported) set before bind, so a port that was just toggled off can be
// re-bound immediately without waiting out TIME_WAIT.
func listen(port int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if ctrlErr != nil {
					return
				}
				// Best-effort: not every platform supports SO_REUSEPORT.
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	return lc.Listen(context.Background(), "tcp", addr)
}

// run is the accept-and-reset loop for a single port.
func (s *Supervisor) run(ctx context.Context, w *worker) {
	defer close(w.done)
	defer w.lis.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tl, ok := w.lis.(*net.TCPListener)
		if ok {
			_ = tl.SetDeadline(time.Now().Add(s.pollInterval))
		}

		conn, err := w.lis.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Any non-timeout accept error stops this worker.
			return
		}

		tcpConn, ok := conn.(*net.TCPConn)
		if ok {
			// SetLinger(0): Close() below sends RST, not FIN — the
			// port must look reset, not gracefully closed.
			_ = tcpConn.SetLinger(0)
		}
		_ = conn.Close()

		if s.metrics != nil {
			s.metrics.RSTConnectionsTotal.Inc()
		}
		s.log.Debug("reset connection on inactive port",
			zap.Int("port", w.port), zap.String("remote", conn.RemoteAddr().String()))
	}
}

// Close stops every running worker. Called during gateway shutdown.
func (s *Supervisor) Close() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = make(map[int]*worker)
	s.mu.Unlock()

	for _, w := range workers {
		w.cancel()
		<-w.done
	}
}
