// Package handlers holds the thin boundary adapters between the message
// server's wire protocol and the policy engine: one file per command
// family, matching the per-concern handler-file convention observed
// across the retrieved example pack.
package handlers

import (
	"encoding/json"

	"github.com/honeytrap/gateway/internal/msgserver"
	"github.com/honeytrap/gateway/internal/policy"
	"github.com/honeytrap/gateway/internal/portvis"
)

// Set groups every dependency a handler needs and registers all command
// handlers against a msgserver.Server's dispatch table.
type Set struct {
	Policy  *policy.Engine
	PortVis *portvis.Supervisor
}

// Register wires every HoneyTrap command into srv's dispatch table.
func (s *Set) Register(srv *msgserver.Server) {
	srv.Register("login", s.handleLogin)
	srv.Register("signup", s.handleSignup)
	srv.Register("logout", s.handleLogout)
	srv.Register("update_activity", s.handleUpdateActivity)
	srv.Register("get_ports", s.handleGetPorts)
	srv.Register("update_port", s.handleUpdatePort)
	srv.Register("get_attackers", s.handleGetAttackers)
	srv.Register("get_potential_attackers", s.handleGetPotentialAttackers)
	srv.Register("ban_ip", s.handleBanIP)
	srv.Register("unban_ip", s.handleUnbanIP)
	srv.Register("get_banned_ips", s.handleGetBannedIPs)
	srv.Register("get_active_users", s.handleGetActiveUsers)
}

type loginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Port     int    `json:"port"`
}

// handleLogin adapts the wire "login" command to policy.CheckLogin.
// The decoy outcome is spelled "fake" on the wire.
func (s *Set) handleLogin(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	var p loginParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return msgserver.ErrorResponse("Invalid request format")
	}

	outcome, reason, err := s.Policy.CheckLogin(p.Username, p.Password, conn.RemoteIP(), p.Port)
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}

	switch outcome {
	case policy.OutcomeAdmin:
		return msgserver.Response{Status: "admin"}
	case policy.OutcomeValid:
		return msgserver.Response{Status: "valid"}
	case policy.OutcomeDecoy:
		resp := msgserver.Response{Status: "fake"}
		if reason != "" {
			resp.Message = reason
		}
		return resp
	default:
		return msgserver.Response{Status: msgserver.StatusError, Message: reason}
	}
}
