package handlers

import (
	"encoding/json"

	"github.com/honeytrap/gateway/internal/msgserver"
)

type usernameParams struct {
	Username string `json:"username"`
}

func (s *Set) handleLogout(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	var p usernameParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return msgserver.ErrorResponse("Invalid request format")
	}
	if err := s.Policy.Logout(p.Username); err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, nil)
}

func (s *Set) handleUpdateActivity(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	var p usernameParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return msgserver.ErrorResponse("Invalid request format")
	}
	ok, err := s.Policy.UpdateActivity(p.Username)
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	if !ok {
		return msgserver.ErrorResponse("No active session for user")
	}
	return msgserver.OKResponse(msgserver.StatusUpdated, nil)
}
