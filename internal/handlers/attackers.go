package handlers

import (
	"encoding/json"

	"github.com/honeytrap/gateway/internal/msgserver"
)

func (s *Set) handleGetAttackers(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	attackers, err := s.Policy.Attackers()
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, attackers)
}

func (s *Set) handleGetPotentialAttackers(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	suspects, err := s.Policy.PotentialAttackers()
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, suspects)
}
