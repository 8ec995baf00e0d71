package handlers

import (
	"encoding/json"

	"github.com/honeytrap/gateway/internal/msgserver"
	"github.com/honeytrap/gateway/internal/store"
)

// wirePort is the wire shape of a port entry. The decoy flag is spelled
// "honeypot" on the wire.
type wirePort struct {
	Port          int    `json:"port"`
	Status        string `json:"status"`
	Honeypot      bool   `json:"honeypot"`
	LastTriggered string `json:"last_triggered"`
}

func toWirePort(p store.Port) wirePort {
	return wirePort{Port: p.Port, Status: p.Status, Honeypot: p.Decoy, LastTriggered: p.LastTriggered}
}

func (s *Set) handleGetPorts(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	ports, err := s.Policy.ListPorts()
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	wire := make([]wirePort, 0, len(ports))
	for _, p := range ports {
		wire = append(wire, toWirePort(p))
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, wire)
}

type updatePortParams struct {
	Port     int    `json:"port"`
	Status   string `json:"status,omitempty"`
	Honeypot *bool  `json:"honeypot,omitempty"`
}

func (s *Set) handleUpdatePort(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	var p updatePortParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return msgserver.ErrorResponse("Invalid request format")
	}
	if p.Status != "" && p.Status != store.PortStatusActive && p.Status != store.PortStatusInactive {
		return msgserver.ErrorResponse("Invalid port status")
	}
	ok, err := s.Policy.TogglePort(p.Port, p.Status, p.Honeypot)
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}
	if !ok {
		return msgserver.ErrorResponse("Port not found")
	}
	if p.Status != "" && s.PortVis != nil {
		s.PortVis.SetVisibility(p.Port, p.Status == store.PortStatusActive)
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, nil)
}
