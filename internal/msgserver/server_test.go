package msgserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startTestServer(t *testing.T) (*Server, int) {
	t.Helper()
	s := NewServer(zap.NewNop(), nil, 300*time.Second, 3, 16)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Close()
	})

	go func() {
		_ = s.ListenAndServe(ctx, ChannelControl, port)
	}()
	time.Sleep(100 * time.Millisecond)
	return s, port
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendLine(t *testing.T, conn net.Conn, line string) Response {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	respLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(respLine), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestUnknownCommand(t *testing.T) {
	_, port := startTestServer(t)
	conn := dial(t, port)
	defer conn.Close()

	resp := sendLine(t, conn, `{"command":"bogus"}`)
	if resp.Status != StatusError || resp.Message != "Unknown command: bogus" {
		t.Fatalf("got %+v", resp)
	}
}

func TestMalformedJSON(t *testing.T) {
	_, port := startTestServer(t)
	conn := dial(t, port)
	defer conn.Close()

	resp := sendLine(t, conn, `{not json`)
	if resp.Status != StatusError || resp.Message != "Invalid request format" {
		t.Fatalf("got %+v", resp)
	}
}

func TestDispatchAndIDEcho(t *testing.T) {
	s, port := startTestServer(t)
	s.Register("ping", func(conn *Conn, params json.RawMessage) Response {
		return OKResponse(StatusSuccess, map[string]string{"pong": conn.RemoteIP()})
	})

	conn := dial(t, port)
	defer conn.Close()

	resp := sendLine(t, conn, `{"id":"abc","command":"ping"}`)
	if resp.Status != StatusSuccess || resp.ID != "abc" {
		t.Fatalf("got %+v", resp)
	}
}

func TestIdleSweepClosesIdleConnections(t *testing.T) {
	s := NewServer(zap.NewNop(), nil, 0, 3, 16)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.ListenAndServe(ctx, ChannelControl, port) }()
	time.Sleep(100 * time.Millisecond)

	conn := dial(t, port)
	defer conn.Close()
	conn.Write([]byte("{}\n"))
	time.Sleep(50 * time.Millisecond)

	closed := s.IdleSweep()
	if closed == 0 {
		t.Fatalf("expected at least one idle connection to be closed")
	}
}
