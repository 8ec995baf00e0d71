// Package msgserver implements the HoneyTrap dual-channel message server:
// two independent TCP acceptors (control, data) speaking a common
// newline-delimited JSON command protocol over a shared, channel-agnostic
// dispatch table.
//
// Framing: each connection is read with a bufio.Scanner splitting on
// '\n'. One client write of a single JSON object terminated by '\n'
// produces exactly one dispatch; the single JSON response is written
// with one Write call.
//
// Handler exceptions close the connection rather than producing a
// structured error response. This is a deliberately preserved quirk,
// not an oversight.
package msgserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/honeytrap/gateway/internal/observability"
)

// Handler is a dispatch-table entry: decode params, act, return a Response.
type Handler func(conn *Conn, params json.RawMessage) Response

// Conn wraps a single accepted connection with the metadata handlers need
// (remote IP, channel name) and the idle-tracking state the supervisor
// loop's idle sweep consumes.
type Conn struct {
	raw      net.Conn
	channel  string
	remoteIP string

	mu           sync.Mutex
	lastActivity time.Time
}

// NewTestConn builds a Conn carrying only a remote IP, for handler unit
// tests that don't need a live socket.
func NewTestConn(remoteIP string) *Conn {
	return &Conn{remoteIP: remoteIP, channel: ChannelControl, lastActivity: time.Now()}
}

// RemoteIP returns the connection's peer address, without the port.
func (c *Conn) RemoteIP() string { return c.remoteIP }

// Channel returns "control" or "data".
func (c *Conn) Channel() string { return c.channel }

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Conn) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

const (
	ChannelControl = "control"
	ChannelData    = "data"

	maxLineBytes = 1 << 20 // 1 MiB per request/response line.
)

// Server is the dual-channel message server.
type Server struct {
	log     *zap.Logger
	metrics *observability.Metrics

	idleTimeout time.Duration
	bindRetries int
	connSem     chan struct{}

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*Conn]struct{}
	closed    bool
}

// NewServer constructs a Server. maxConcurrentConns bounds simultaneously
// handled connections across both channels combined.
func NewServer(log *zap.Logger, metrics *observability.Metrics, idleTimeout time.Duration, bindRetries, maxConcurrentConns int) *Server {
	return &Server{
		log:         log,
		metrics:     metrics,
		idleTimeout: idleTimeout,
		bindRetries: bindRetries,
		connSem:     make(chan struct{}, maxConcurrentConns),
		handlers:    make(map[string]Handler),
		conns:       make(map[*Conn]struct{}),
	}
}

// Register adds a command handler to the dispatch table. The dispatch
// table is channel-agnostic: the same table serves every channel, even
// though today every command is issued over the control channel.
func (s *Server) Register(cmd string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[cmd] = h
}

// ListenAndServe binds the given channel's acceptor and serves
// connections until ctx is cancelled. Binding is attempted up to
// bindRetries times, waiting 2s, 4s, 8s, ... between attempts (2,4,8,16s
// for 5 attempts); no wait follows the final failed attempt.
func (s *Server) ListenAndServe(ctx context.Context, channel string, port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)

	var lis net.Listener
	var err error
	backoff := 2 * time.Second
	for attempt := 1; attempt <= s.bindRetries; attempt++ {
		lis, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		s.log.Warn("msgserver: bind failed, retrying",
			zap.String("channel", channel), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == s.bindRetries {
			return fmt.Errorf("msgserver: bind %s channel on %s: %w", channel, addr, err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = lis.Close()
		return fmt.Errorf("msgserver: server already closed")
	}
	s.listeners = append(s.listeners, lis)
	s.mu.Unlock()

	s.log.Info("msgserver: channel listening", zap.String("channel", channel), zap.Int("port", port))

	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		tl, ok := lis.(*net.TCPListener)
		if ok {
			_ = tl.SetDeadline(time.Now().Add(time.Second))
		}
		raw, err := lis.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return nil
				default:
					continue
				}
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("msgserver: accept error", zap.String("channel", channel), zap.Error(err))
				continue
			}
		}

		select {
		case s.connSem <- struct{}{}:
		default:
			s.log.Warn("msgserver: max connections reached, rejecting", zap.String("channel", channel))
			_ = raw.Close()
			continue
		}

		remoteIP := raw.RemoteAddr().String()
		if host, _, err := net.SplitHostPort(remoteIP); err == nil {
			remoteIP = host
		}
		conn := &Conn{raw: raw, channel: channel, remoteIP: remoteIP, lastActivity: time.Now()}
		s.trackConn(conn)
		if s.metrics != nil {
			s.metrics.ActiveConnections.WithLabelValues(channel).Inc()
		}

		go func() {
			defer func() { <-s.connSem }()
			defer s.untrackConn(conn)
			if s.metrics != nil {
				defer s.metrics.ActiveConnections.WithLabelValues(channel).Dec()
			}
			s.handleConn(conn)
		}()
	}
}

func (s *Server) trackConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrackConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	if c.raw != nil {
		_ = c.raw.Close()
	}
}

// handleConn serves requests on one connection until EOF, a read error
// (including an over-long line), or IdleSweep closing the idle
// connection. Exactly one dispatch happens per line read, and exactly
// one response is written per dispatch.
func (s *Server) handleConn(conn *Conn) {
	scanner := bufio.NewScanner(conn.raw)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		conn.touch()
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.writeResponse(conn, ErrorResponse("Invalid request format"))
			continue
		}

		resp := s.dispatch(conn, req)
		s.writeResponse(conn, resp)
	}
}

// dispatch looks up and invokes the handler for req.Command. A handler
// panic is recovered and the connection is closed without a structured
// error response, matching the preserved quirk documented at the top of
// this file.
func (s *Server) dispatch(conn *Conn, req Request) (resp Response) {
	s.handlersMu.RLock()
	h, ok := s.handlers[req.Command]
	s.handlersMu.RUnlock()

	if !ok {
		return Response{ID: req.ID, Status: StatusError, Message: fmt.Sprintf("Unknown command: %s", req.Command)}
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("msgserver: handler panic, closing connection",
				zap.String("cmd", req.Command), zap.Any("panic", r))
			_ = conn.raw.Close()
			resp = Response{}
		}
	}()

	resp = h(conn, req.Params)
	resp.ID = req.ID
	return resp
}

func (s *Server) writeResponse(conn *Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("msgserver: failed to marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	_, _ = conn.raw.Write(data)
}

// IdleSweep closes every connection idle for longer than idleTimeout.
// Invoked by the supervisor loop each sweep cycle. Returns the number of
// connections closed.
func (s *Server) IdleSweep() int {
	s.mu.Lock()
	var toClose []*Conn
	for c := range s.conns {
		if c.idleSince() > s.idleTimeout {
			toClose = append(toClose, c)
		}
	}
	s.mu.Unlock()

	for _, c := range toClose {
		s.untrackConn(c)
	}
	return len(toClose)
}

// Close closes every listener and every tracked connection.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, lis := range listeners {
		_ = lis.Close()
	}
	for _, c := range conns {
		s.untrackConn(c)
	}
}
