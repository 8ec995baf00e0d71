package handlers

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/honeytrap/gateway/internal/config"
	"github.com/honeytrap/gateway/internal/msgserver"
	"github.com/honeytrap/gateway/internal/policy"
	"github.com/honeytrap/gateway/internal/portvis"
	"github.com/honeytrap/gateway/internal/store"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "honeytrap.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := store.EnsureSeeded(st); err != nil {
		t.Fatalf("EnsureSeeded: %v", err)
	}
	eng := policy.NewEngine(st, config.Defaults().Policy, zap.NewNop(), nil)
	vis := portvis.New(zap.NewNop(), nil, time.Second)
	t.Cleanup(vis.Close)
	return &Set{Policy: eng, PortVis: vis}
}

func TestHandleLoginWireOutcomes(t *testing.T) {
	s := newTestSet(t)
	srv := msgserver.NewServer(zap.NewNop(), nil, 300*time.Second, 3, 16)
	s.Register(srv)

	resp := s.handleLogin(msgserver.NewTestConn("10.0.0.9"), mustJSON(t, map[string]any{"username": "user", "password": "password", "port": 8001}))
	if resp.Status != "valid" {
		t.Fatalf("expected valid, got %+v", resp)
	}

	resp = s.handleLogin(msgserver.NewTestConn("10.0.0.9"), mustJSON(t, map[string]any{"username": "ab", "password": "cd", "port": 8001}))
	if resp.Status != msgserver.StatusError || resp.Message != "Invalid username/password length" {
		t.Fatalf("got %+v", resp)
	}
}

func TestHandleSignupAndDuplicateRejected(t *testing.T) {
	s := newTestSet(t)

	resp := s.handleSignup(msgserver.NewTestConn("10.0.0.9"), mustJSON(t, map[string]any{"username": "newuser", "password": "secret1"}))
	if resp.Status != msgserver.StatusSuccess {
		t.Fatalf("got %+v", resp)
	}

	resp = s.handleSignup(msgserver.NewTestConn("10.0.0.9"), mustJSON(t, map[string]any{"username": "newuser", "password": "secret1"}))
	if resp.Status != msgserver.StatusError || resp.Message != "Username already exists" {
		t.Fatalf("got %+v", resp)
	}
}

func TestHandleGetPortsWireFieldName(t *testing.T) {
	s := newTestSet(t)

	resp := s.handleGetPorts(msgserver.NewTestConn("10.0.0.9"), nil)
	if resp.Status != msgserver.StatusSuccess {
		t.Fatalf("got %+v", resp)
	}
	ports, ok := resp.Data.([]wirePort)
	if !ok || len(ports) != 5 {
		t.Fatalf("expected 5 wire ports, got %+v", resp.Data)
	}

	encoded, err := json.Marshal(ports[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !jsonHasKey(encoded, "honeypot") {
		t.Fatalf("expected wire port to use 'honeypot' field name, got %s", encoded)
	}
}

func TestHandleUpdatePortTogglesVisibilitySupervisor(t *testing.T) {
	s := newTestSet(t)

	resp := s.handleUpdatePort(msgserver.NewTestConn("10.0.0.9"), mustJSON(t, map[string]any{"port": 8003, "status": "inactive"}))
	if resp.Status != msgserver.StatusSuccess {
		t.Fatalf("got %+v", resp)
	}

	resp = s.handleUpdatePort(msgserver.NewTestConn("10.0.0.9"), mustJSON(t, map[string]any{"port": 8003, "status": "active"}))
	if resp.Status != msgserver.StatusSuccess {
		t.Fatalf("got %+v", resp)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func jsonHasKey(data []byte, key string) bool {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
