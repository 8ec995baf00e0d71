package handlers

import (
	"encoding/json"

	"github.com/honeytrap/gateway/internal/msgserver"
)

type ipParams struct {
	IP string `json:"ip"`
}

func (s *Set) handleBanIP(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	var p ipParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return msgserver.ErrorResponse("Invalid request format")
	}
	if err := s.Policy.BanIP(p.IP); err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, nil)
}

func (s *Set) handleUnbanIP(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	var p ipParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return msgserver.ErrorResponse("Invalid request format")
	}
	if err := s.Policy.UnbanIP(p.IP); err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, nil)
}

func (s *Set) handleGetBannedIPs(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	banned, err := s.Policy.BannedIPs()
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, banned)
}
