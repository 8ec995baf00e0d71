// Package policy implements the HoneyTrap decision engine: the pure
// functions that decide whether a login is genuine, a decoy should be
// served, or the request should be rejected, plus the session and ban
// bookkeeping around those decisions.
//
// The decision order of CheckLogin is strict and must not be reordered:
// admin bypass, then ban-list gate, then credential-length validation,
// then decoy-port gate, then credential match, then failure escalation.
// Each step either returns immediately or falls through to the next.
//
// The per-(username, ip) attempt counter is process-local and in-memory
// only: a restart forgives prior failures, and increments across
// concurrent logins for the same pair are not required to be atomic —
// the worst case is one extra counted attempt.
package policy

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/honeytrap/gateway/internal/config"
	"github.com/honeytrap/gateway/internal/observability"
	"github.com/honeytrap/gateway/internal/store"
)

// Outcome is the result of a login attempt.
type Outcome string

const (
	OutcomeAdmin Outcome = "admin"
	OutcomeValid Outcome = "valid"
	OutcomeDecoy Outcome = "decoy"
	OutcomeError Outcome = "error"
)

const timeLayout = "2006-01-02 15:04:05"

type attemptKey struct {
	Username string
	IP       string
}

// Engine is the policy decision engine. One Engine is shared by every
// connection handler in the message server.
type Engine struct {
	store   *store.Store
	cfg     config.PolicyConfig
	log     *zap.Logger
	metrics *observability.Metrics

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time

	mu       sync.Mutex
	attempts map[attemptKey]int
}

// NewEngine constructs a policy Engine.
func NewEngine(st *store.Store, cfg config.PolicyConfig, log *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:    st,
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
		attempts: make(map[attemptKey]int),
	}
}

func (e *Engine) nowString() string {
	return e.now().Format(timeLayout)
}

func (e *Engine) recordOutcome(outcome Outcome) {
	if e.metrics != nil {
		e.metrics.LoginsTotal.WithLabelValues(string(outcome)).Inc()
	}
}

// CheckLogin decides the outcome of a single login attempt. reason is
// populated only for the outcomes that carry a reason string;
// it is empty for plain decoy/valid/admin outcomes that carry none.
func (e *Engine) CheckLogin(username, password, clientIP string, port int) (Outcome, string, error) {
	// 1. Admin credentials bypass everything, including the ban list.
	// No session is ever created for the admin account.
	if username == e.cfg.AdminUsername && password == e.cfg.AdminPassword {
		e.recordOutcome(OutcomeAdmin)
		return OutcomeAdmin, "", nil
	}

	var bannedIPs []string
	if err := e.store.Load(store.CollectionBannedIPs, &bannedIPs); err != nil {
		return OutcomeError, "", fmt.Errorf("policy.CheckLogin: load banned_ips: %w", err)
	}
	for _, banned := range bannedIPs {
		if banned == clientIP {
			// 2. Banned IPs are served a decoy outcome, never real
			// credential feedback, and never consume the attempt counter.
			e.recordOutcome(OutcomeDecoy)
			return OutcomeDecoy, "IP address banned", nil
		}
	}

	// 3. Reject obviously-too-short credentials before touching any
	// persisted state.
	if len(username) < e.cfg.MinCredentialLength || len(password) < e.cfg.MinCredentialLength {
		e.recordOutcome(OutcomeError)
		return OutcomeError, "Invalid username/password length", nil
	}

	var ports []store.Port
	if err := e.store.Load(store.CollectionPorts, &ports); err != nil {
		return OutcomeError, "", fmt.Errorf("policy.CheckLogin: load ports: %w", err)
	}
	if p := findPort(ports, port); p != nil && p.Status == store.PortStatusActive && p.Decoy {
		// 4. A port already flipped into decoy mode serves every
		// non-admin login a decoy, with no credential check at all.
		e.recordOutcome(OutcomeDecoy)
		return OutcomeDecoy, "", nil
	}

	var users map[string]string
	if err := e.store.Load(store.CollectionUsers, &users); err != nil {
		return OutcomeError, "", fmt.Errorf("policy.CheckLogin: load users: %w", err)
	}
	if stored, ok := users[username]; ok && stored == password {
		// 5. Genuine credentials clear the failure counter and open a
		// session.
		e.clearAttempts(username, clientIP)
		if err := e.upsertSession(username, clientIP, port); err != nil {
			return OutcomeError, "", fmt.Errorf("policy.CheckLogin: upsert session: %w", err)
		}
		e.recordOutcome(OutcomeValid)
		return OutcomeValid, "", nil
	}

	// 6. Incorrect credentials: count the failure, and on reaching the
	// threshold, escalate — write a suspect record (with the attempt
	// count) and flip the target port into decoy mode if it still
	// exists. A deleted port still gets the suspect record written;
	// only the port mutation is skipped.
	attempts := e.incrementAttempts(username, clientIP)
	if attempts >= e.cfg.FailureThreshold {
		if err := e.escalate(username, clientIP, port, attempts, ports); err != nil {
			return OutcomeError, "", fmt.Errorf("policy.CheckLogin: escalate: %w", err)
		}
		e.recordOutcome(OutcomeDecoy)
		return OutcomeDecoy, "", nil
	}

	e.recordOutcome(OutcomeError)
	return OutcomeError, "Incorrect username/password", nil
}

func findPort(ports []store.Port, port int) *store.Port {
	for i := range ports {
		if ports[i].Port == port {
			return &ports[i]
		}
	}
	return nil
}

func (e *Engine) clearAttempts(username, ip string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, attemptKey{Username: username, IP: ip})
}

func (e *Engine) incrementAttempts(username, ip string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := attemptKey{Username: username, IP: ip}
	e.attempts[k]++
	return e.attempts[k]
}

func (e *Engine) upsertSession(username, ip string, port int) error {
	var sessions map[string]store.Session
	if err := e.store.Load(store.CollectionSessions, &sessions); err != nil {
		return err
	}
	if sessions == nil {
		sessions = make(map[string]store.Session)
	}
	now := e.nowString()
	sessions[username] = store.Session{
		LoginTime:        now,
		LastActivityTime: now,
		IP:               ip,
		Port:             port,
	}
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(float64(len(sessions)))
	}
	return e.store.Save(store.CollectionSessions, sessions)
}

func (e *Engine) escalate(username, ip string, port, attempts int, ports []store.Port) error {
	var suspects []store.SuspectRecord
	if err := e.store.Load(store.CollectionPotentialAttackers, &suspects); err != nil {
		return err
	}
	rec := store.SuspectRecord{
		Username:      username,
		IP:            ip,
		AttemptedPort: port,
		Attempts:      attempts,
		Reason:        "2 or more failed login attempts",
		Timestamp:     e.nowString(),
	}
	replaced := false
	for i := range suspects {
		if suspects[i].Username == username && suspects[i].IP == ip {
			suspects[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		suspects = append(suspects, rec)
	}
	if err := e.store.Save(store.CollectionPotentialAttackers, suspects); err != nil {
		return err
	}

	if p := findPort(ports, port); p != nil {
		for i := range ports {
			if ports[i].Port == port {
				ports[i].Decoy = true
				ports[i].LastTriggered = e.nowString()
			}
		}
		if err := e.store.Save(store.CollectionPorts, ports); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.DecoyTriggersTotal.Inc()
		}
	}
	return nil
}
