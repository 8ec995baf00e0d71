package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/honeytrap/gateway/internal/msgserver"
	"github.com/honeytrap/gateway/internal/policy"
)

// wireActiveUser is the per-session shape get_active_users returns.
type wireActiveUser struct {
	Username       string `json:"username"`
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	LoginTime      string `json:"login_time"`
	LastActivity   string `json:"last_activity"`
	SessionLength  string `json:"session_length"`
	InactiveFor    string `json:"inactive_for"`
}

// minutesString formats a duration as "N mins", truncating toward zero.
func minutesString(d time.Duration) string {
	mins := int64(d / time.Minute)
	if mins < 0 {
		mins = 0
	}
	return fmt.Sprintf("%d mins", mins)
}

func (s *Set) handleGetActiveUsers(conn *msgserver.Conn, raw json.RawMessage) msgserver.Response {
	sessions, err := s.Policy.ActiveUsers()
	if err != nil {
		return msgserver.ErrorResponse("internal error")
	}

	now := s.Policy.Now()
	out := make([]wireActiveUser, 0, len(sessions))
	for username, sess := range sessions {
		login, errLogin := time.ParseInLocation(policy.TimeLayout, sess.LoginTime, now.Location())
		last, errLast := time.ParseInLocation(policy.TimeLayout, sess.LastActivityTime, now.Location())
		entry := wireActiveUser{
			Username:     username,
			IP:           sess.IP,
			Port:         sess.Port,
			LoginTime:    sess.LoginTime,
			LastActivity: sess.LastActivityTime,
		}
		if errLogin == nil {
			entry.SessionLength = minutesString(now.Sub(login))
		}
		if errLast == nil {
			entry.InactiveFor = minutesString(now.Sub(last))
		}
		out = append(out, entry)
	}
	return msgserver.OKResponse(msgserver.StatusSuccess, out)
}
