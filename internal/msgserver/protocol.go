package msgserver

import "encoding/json"

// Request is the wire shape of a single client command. Params are
// command-specific and left raw until the handler decodes them.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the wire shape of every reply. Every field but Status is
// optional; Data carries command-specific payloads.
type Response struct {
	ID      string      `json:"id,omitempty"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Status strings shared by the handlers. Most commands reply "success";
// update_activity replies "updated"; login replies with its own outcome
// spellings (admin, valid, fake). Every command uses "error" for failures.
const (
	StatusError   = "error"
	StatusSuccess = "success"
	StatusUpdated = "updated"
)

// ErrorResponse builds a {"status":"error","message":...} response.
func ErrorResponse(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// OKResponse builds a successful response with the given command-specific
// status string, optionally carrying data.
func OKResponse(status string, data interface{}) Response {
	return Response{Status: status, Data: data}
}
