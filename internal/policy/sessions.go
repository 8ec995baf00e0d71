package policy

import (
	"fmt"
	"time"

	"github.com/honeytrap/gateway/internal/store"
)

// CreateUser registers a new user, matching the signup operation.
// Admin is a reserved identity and can never be created as a User.
func (e *Engine) CreateUser(username, password string) (bool, string, error) {
	if username == e.cfg.AdminUsername {
		return false, "Username not available", nil
	}
	if len(username) < e.cfg.MinCredentialLength || len(password) < e.cfg.MinCredentialLength {
		return false, "Invalid username/password length", nil
	}

	var users map[string]string
	if err := e.store.Load(store.CollectionUsers, &users); err != nil {
		return false, "", fmt.Errorf("policy.CreateUser: load users: %w", err)
	}
	if users == nil {
		users = make(map[string]string)
	}
	if _, exists := users[username]; exists {
		return false, "Username already exists", nil
	}

	users[username] = password
	if err := e.store.Save(store.CollectionUsers, users); err != nil {
		return false, "", fmt.Errorf("policy.CreateUser: save users: %w", err)
	}
	return true, "", nil
}

// Logout removes a session. Idempotent: logging out a username with no
// active session is not an error.
func (e *Engine) Logout(username string) error {
	var sessions map[string]store.Session
	if err := e.store.Load(store.CollectionSessions, &sessions); err != nil {
		return fmt.Errorf("policy.Logout: load sessions: %w", err)
	}
	if sessions == nil {
		return nil
	}
	delete(sessions, username)
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(float64(len(sessions)))
	}
	return e.store.Save(store.CollectionSessions, sessions)
}

// UpdateActivity bumps a session's last-activity timestamp.
// Returns false if no session exists for username.
func (e *Engine) UpdateActivity(username string) (bool, error) {
	var sessions map[string]store.Session
	if err := e.store.Load(store.CollectionSessions, &sessions); err != nil {
		return false, fmt.Errorf("policy.UpdateActivity: load sessions: %w", err)
	}
	sess, ok := sessions[username]
	if !ok {
		return false, nil
	}
	sess.LastActivityTime = e.nowString()
	sessions[username] = sess
	if err := e.store.Save(store.CollectionSessions, sessions); err != nil {
		return false, fmt.Errorf("policy.UpdateActivity: save sessions: %w", err)
	}
	return true, nil
}

// InactivitySweep removes every session idle for longer than
// cfg.InactivityLimit. Each expired session also upserts a suspect
// record and flips its port into decoy mode, mirroring escalate's
// write pattern for repeated failed logins. Admin never holds a
// session, so it is never a candidate here. Returns the usernames that
// were logged out.
func (e *Engine) InactivitySweep() ([]string, error) {
	var sessions map[string]store.Session
	if err := e.store.Load(store.CollectionSessions, &sessions); err != nil {
		return nil, fmt.Errorf("policy.InactivitySweep: load sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	now := e.now()
	var expired []string
	for username, sess := range sessions {
		last, err := time.ParseInLocation(timeLayout, sess.LastActivityTime, now.Location())
		if err != nil {
			// A malformed timestamp cannot be compared; treat as expired
			// rather than leaving a session that can never be evaluated.
			expired = append(expired, username)
			continue
		}
		if now.Sub(last) > e.cfg.InactivityLimit {
			expired = append(expired, username)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}

	var ports []store.Port
	if err := e.store.Load(store.CollectionPorts, &ports); err != nil {
		return nil, fmt.Errorf("policy.InactivitySweep: load ports: %w", err)
	}
	var suspects []store.SuspectRecord
	if err := e.store.Load(store.CollectionPotentialAttackers, &suspects); err != nil {
		return nil, fmt.Errorf("policy.InactivitySweep: load potential_attackers: %w", err)
	}

	portsChanged := false
	for _, username := range expired {
		sess := sessions[username]
		rec := store.SuspectRecord{
			Username:      username,
			IP:            sess.IP,
			AttemptedPort: sess.Port,
			Reason:        "Inactive for 5+ minutes",
			Timestamp:     e.nowString(),
		}
		replaced := false
		for i := range suspects {
			if suspects[i].Username == username && suspects[i].IP == sess.IP {
				suspects[i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			suspects = append(suspects, rec)
		}

		if p := findPort(ports, sess.Port); p != nil {
			for i := range ports {
				if ports[i].Port == sess.Port {
					ports[i].Decoy = true
					ports[i].LastTriggered = e.nowString()
				}
			}
			portsChanged = true
			if e.metrics != nil {
				e.metrics.DecoyTriggersTotal.Inc()
			}
		}

		delete(sessions, username)
	}

	if err := e.store.Save(store.CollectionPotentialAttackers, suspects); err != nil {
		return nil, fmt.Errorf("policy.InactivitySweep: save potential_attackers: %w", err)
	}
	if portsChanged {
		if err := e.store.Save(store.CollectionPorts, ports); err != nil {
			return nil, fmt.Errorf("policy.InactivitySweep: save ports: %w", err)
		}
	}
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(float64(len(sessions)))
	}
	if err := e.store.Save(store.CollectionSessions, sessions); err != nil {
		return nil, fmt.Errorf("policy.InactivitySweep: save sessions: %w", err)
	}
	return expired, nil
}
