package handlers

import (
	"encoding/json"

	"github.com/honeytrap/gateway/internal/msgserver"
)

type signupParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Set) handleSignup(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	var p signupParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return msgserver.ErrorResponse("Invalid request format")
	}

	ok, reason, err := s.Policy.CreateUser(p.Username, p.Password)
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	if !ok {
		return msgserver.ErrorResponse(reason)
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, nil)
}
