package policy

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/honeytrap/gateway/internal/config"
	"github.com/honeytrap/gateway/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "honeytrap.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := store.EnsureSeeded(st); err != nil {
		t.Fatalf("EnsureSeeded: %v", err)
	}
	cfg := config.Defaults().Policy
	e := NewEngine(st, cfg, zap.NewNop(), nil)
	return e, st
}

func TestCheckLoginAdminBypassesEverything(t *testing.T) {
	e, st := newTestEngine(t)

	if err := e.BanIP("1.2.3.4"); err != nil {
		t.Fatalf("BanIP: %v", err)
	}

	outcome, _, err := e.CheckLogin("admin", "admin123", "1.2.3.4", 8001)
	if err != nil {
		t.Fatalf("CheckLogin: %v", err)
	}
	if outcome != OutcomeAdmin {
		t.Fatalf("expected admin outcome even with banned IP, got %v", outcome)
	}

	var sessions map[string]store.Session
	if err := st.Load(store.CollectionSessions, &sessions); err != nil {
		t.Fatalf("Load sessions: %v", err)
	}
	if _, ok := sessions["admin"]; ok {
		t.Fatalf("admin login must never create a session")
	}
}

func TestCheckLoginBannedIPYieldsDecoy(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.BanIP("9.9.9.9"); err != nil {
		t.Fatalf("BanIP: %v", err)
	}

	outcome, reason, err := e.CheckLogin("user", "password", "9.9.9.9", 8001)
	if err != nil {
		t.Fatalf("CheckLogin: %v", err)
	}
	if outcome != OutcomeDecoy || reason != "IP address banned" {
		t.Fatalf("got outcome=%v reason=%q", outcome, reason)
	}
}

func TestCheckLoginValidCredentialsClearsCounterAndCreatesSession(t *testing.T) {
	e, st := newTestEngine(t)

	// One failed attempt first.
	if _, _, err := e.CheckLogin("user", "wrong", "10.0.0.1", 8001); err != nil {
		t.Fatalf("CheckLogin: %v", err)
	}

	outcome, _, err := e.CheckLogin("user", "password", "10.0.0.1", 8001)
	if err != nil {
		t.Fatalf("CheckLogin: %v", err)
	}
	if outcome != OutcomeValid {
		t.Fatalf("expected valid outcome, got %v", outcome)
	}

	var sessions map[string]store.Session
	if err := st.Load(store.CollectionSessions, &sessions); err != nil {
		t.Fatalf("Load sessions: %v", err)
	}
	if _, ok := sessions["user"]; !ok {
		t.Fatalf("expected session for user")
	}

	if e.incrementAttempts("user", "10.0.0.1") != 1 {
		t.Fatalf("expected attempt counter to have been cleared by the successful login")
	}
}

func TestCheckLoginEscalatesToDecoyAfterThreshold(t *testing.T) {
	e, st := newTestEngine(t)

	outcome1, reason1, err := e.CheckLogin("user", "wrong", "10.0.0.2", 8001)
	if err != nil {
		t.Fatalf("CheckLogin: %v", err)
	}
	if outcome1 != OutcomeError || reason1 != "Incorrect username/password" {
		t.Fatalf("first failure: got outcome=%v reason=%q", outcome1, reason1)
	}

	outcome2, _, err := e.CheckLogin("user", "wrong", "10.0.0.2", 8001)
	if err != nil {
		t.Fatalf("CheckLogin: %v", err)
	}
	if outcome2 != OutcomeDecoy {
		t.Fatalf("expected decoy outcome on reaching threshold, got %v", outcome2)
	}

	var ports []store.Port
	if err := st.Load(store.CollectionPorts, &ports); err != nil {
		t.Fatalf("Load ports: %v", err)
	}
	p := findPort(ports, 8001)
	if p == nil || !p.Decoy {
		t.Fatalf("expected port 8001 to be flipped into decoy mode, got %+v", p)
	}

	var suspects []store.SuspectRecord
	if err := st.Load(store.CollectionPotentialAttackers, &suspects); err != nil {
		t.Fatalf("Load potential_attackers: %v", err)
	}
	if len(suspects) != 1 || suspects[0].Username != "user" || suspects[0].IP != "10.0.0.2" {
		t.Fatalf("expected one suspect record, got %+v", suspects)
	}
	if suspects[0].Reason != "2 or more failed login attempts" || suspects[0].Attempts != 2 {
		t.Fatalf("expected reason/attempts to match the threshold escalation, got %+v", suspects[0])
	}
}

func TestCheckLoginDecoyPortServesDecoyUnconditionally(t *testing.T) {
	e, st := newTestEngine(t)
	var ports []store.Port
	if err := st.Load(store.CollectionPorts, &ports); err != nil {
		t.Fatalf("Load ports: %v", err)
	}
	for i := range ports {
		if ports[i].Port == 8001 {
			ports[i].Decoy = true
		}
	}
	if err := st.Save(store.CollectionPorts, ports); err != nil {
		t.Fatalf("Save ports: %v", err)
	}

	outcome, _, err := e.CheckLogin("user", "password", "10.0.0.3", 8001)
	if err != nil {
		t.Fatalf("CheckLogin: %v", err)
	}
	if outcome != OutcomeDecoy {
		t.Fatalf("expected decoy outcome for correct credentials on a decoy-mode port, got %v", outcome)
	}
}

func TestInactivitySweepExpiresIdleSessions(t *testing.T) {
	e, st := newTestEngine(t)

	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixedNow }

	if _, _, err := e.CheckLogin("user", "password", "10.0.0.4", 8001); err != nil {
		t.Fatalf("CheckLogin: %v", err)
	}

	e.now = func() time.Time { return fixedNow.Add(301 * time.Second) }

	expired, err := e.InactivitySweep()
	if err != nil {
		t.Fatalf("InactivitySweep: %v", err)
	}
	if len(expired) != 1 || expired[0] != "user" {
		t.Fatalf("expected user to be swept, got %v", expired)
	}

	var sessions map[string]store.Session
	if err := st.Load(store.CollectionSessions, &sessions); err != nil {
		t.Fatalf("Load sessions: %v", err)
	}
	if _, ok := sessions["user"]; ok {
		t.Fatalf("expected session to be removed after inactivity sweep")
	}

	var suspects []store.SuspectRecord
	if err := st.Load(store.CollectionPotentialAttackers, &suspects); err != nil {
		t.Fatalf("Load potential_attackers: %v", err)
	}
	if len(suspects) != 1 || suspects[0].Username != "user" || suspects[0].IP != "10.0.0.4" {
		t.Fatalf("expected one suspect record for the swept session, got %+v", suspects)
	}
	if suspects[0].Reason != "Inactive for 5+ minutes" {
		t.Fatalf("expected inactivity-specific reason, got %+v", suspects[0])
	}

	var ports []store.Port
	if err := st.Load(store.CollectionPorts, &ports); err != nil {
		t.Fatalf("Load ports: %v", err)
	}
	p := findPort(ports, 8001)
	if p == nil || !p.Decoy {
		t.Fatalf("expected port 8001 to be flipped into decoy mode, got %+v", p)
	}
}

func TestBanUnbanIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)

	for i := 0; i < 2; i++ {
		if err := e.BanIP("5.5.5.5"); err != nil {
			t.Fatalf("BanIP: %v", err)
		}
	}
	banned, err := e.BannedIPs()
	if err != nil {
		t.Fatalf("BannedIPs: %v", err)
	}
	if len(banned) != 1 {
		t.Fatalf("expected a single entry after repeated bans, got %v", banned)
	}

	for i := 0; i < 2; i++ {
		if err := e.UnbanIP("5.5.5.5"); err != nil {
			t.Fatalf("UnbanIP: %v", err)
		}
	}
	banned, err = e.BannedIPs()
	if err != nil {
		t.Fatalf("BannedIPs: %v", err)
	}
	if len(banned) != 0 {
		t.Fatalf("expected empty ban list, got %v", banned)
	}
}
