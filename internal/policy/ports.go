package policy

import (
	"fmt"
	"time"

	"github.com/honeytrap/gateway/internal/store"
)

// ListPorts returns the full ports snapshot, matching get_ports.
func (e *Engine) ListPorts() ([]store.Port, error) {
	var ports []store.Port
	if err := e.store.Load(store.CollectionPorts, &ports); err != nil {
		return nil, fmt.Errorf("policy.ListPorts: %w", err)
	}
	return ports, nil
}

// TogglePort sets the status and/or the decoy flag of an existing port,
// matching update_port; an empty status or a nil decoy leaves that field
// unchanged. Returns false if the port does not exist.
func (e *Engine) TogglePort(port int, status string, decoy *bool) (bool, error) {
	var ports []store.Port
	if err := e.store.Load(store.CollectionPorts, &ports); err != nil {
		return false, fmt.Errorf("policy.TogglePort: load: %w", err)
	}
	found := false
	for i := range ports {
		if ports[i].Port != port {
			continue
		}
		found = true
		if status != "" {
			ports[i].Status = status
		}
		if decoy != nil {
			ports[i].Decoy = *decoy
		}
	}
	if !found {
		return false, nil
	}
	if err := e.store.Save(store.CollectionPorts, ports); err != nil {
		return false, fmt.Errorf("policy.TogglePort: save: %w", err)
	}
	return true, nil
}

// BanIP adds an IP to the ban list. Idempotent.
func (e *Engine) BanIP(ip string) error {
	var banned []string
	if err := e.store.Load(store.CollectionBannedIPs, &banned); err != nil {
		return fmt.Errorf("policy.BanIP: load: %w", err)
	}
	for _, b := range banned {
		if b == ip {
			return nil
		}
	}
	banned = append(banned, ip)
	if err := e.store.Save(store.CollectionBannedIPs, banned); err != nil {
		return fmt.Errorf("policy.BanIP: save: %w", err)
	}
	return nil
}

// UnbanIP removes an IP from the ban list. Idempotent.
func (e *Engine) UnbanIP(ip string) error {
	var banned []string
	if err := e.store.Load(store.CollectionBannedIPs, &banned); err != nil {
		return fmt.Errorf("policy.UnbanIP: load: %w", err)
	}
	out := banned[:0]
	for _, b := range banned {
		if b != ip {
			out = append(out, b)
		}
	}
	if err := e.store.Save(store.CollectionBannedIPs, out); err != nil {
		return fmt.Errorf("policy.UnbanIP: save: %w", err)
	}
	return nil
}

// BannedIPs returns the full ban list, matching get_banned_ips.
func (e *Engine) BannedIPs() ([]string, error) {
	var banned []string
	if err := e.store.Load(store.CollectionBannedIPs, &banned); err != nil {
		return nil, fmt.Errorf("policy.BannedIPs: %w", err)
	}
	return banned, nil
}

// Attackers returns the read-only attackers collection, matching get_attackers.
func (e *Engine) Attackers() ([]store.AttackerRecord, error) {
	var attackers []store.AttackerRecord
	if err := e.store.Load(store.CollectionAttackers, &attackers); err != nil {
		return nil, fmt.Errorf("policy.Attackers: %w", err)
	}
	return attackers, nil
}

// PotentialAttackers returns the suspect records, matching get_potential_attackers.
func (e *Engine) PotentialAttackers() ([]store.SuspectRecord, error) {
	var suspects []store.SuspectRecord
	if err := e.store.Load(store.CollectionPotentialAttackers, &suspects); err != nil {
		return nil, fmt.Errorf("policy.PotentialAttackers: %w", err)
	}
	return suspects, nil
}

// ActiveUsers returns every live session keyed by username, as stored.
// The derived get_active_users fields (session_length, inactive_for) are
// computed by the caller.
func (e *Engine) ActiveUsers() (map[string]store.Session, error) {
	var sessions map[string]store.Session
	if err := e.store.Load(store.CollectionSessions, &sessions); err != nil {
		return nil, fmt.Errorf("policy.ActiveUsers: %w", err)
	}
	return sessions, nil
}

// Now returns the current time from the engine's clock, so boundary
// handlers can compute session_length/inactive_for against the same time
// source used for sweeps and session timestamps.
func (e *Engine) Now() time.Time { return e.now() }

// TimeLayout is the timestamp format used for every persisted timestamp
// (login_time, last_activity_time, last_triggered, suspect timestamps).
const TimeLayout = timeLayout
