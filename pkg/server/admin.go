package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duskhaven-mud/duskhaven/pkg/archive"
	"github.com/duskhaven-mud/duskhaven/pkg/session"
)

// requireAdmin wraps a handler with a bearer-token check against the
// account's admin bit.
func (srv *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := srv.auth.ValidateToken(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		acct, err := srv.world.Store().GetAccount(claims.AccountID)
		if err != nil || !acct.Admin {
			writeJSONError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	}
}

// sessionInfo is the admin-facing view of one live session.
type sessionInfo struct {
	ID       uint64 `json:"id"`
	Protocol string `json:"protocol"`
	Addr     string `json:"addr"`
	Account  string `json:"account,omitempty"`
	Puppet   string `json:"puppet,omitempty"`
	ConnSecs int64  `json:"conn_secs"`
	LoggedIn bool   `json:"logged_in"`
}

func (srv *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	sessions := srv.reg.All()
	infos := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		info := sessionInfo{
			ID:       s.ID(),
			Protocol: s.Protocol(),
			Addr:     s.Address(),
			ConnSecs: int64(time.Since(s.ConnTime()).Seconds()),
			LoggedIn: s.LoggedIn(),
		}
		if a := s.Account(); a != nil {
			info.Account = a.Name
		}
		if p := s.Puppet(); p != nil {
			info.Puppet = p.Name
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

func (srv *Server) handleAdminKick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID uint64 `json:"session_id"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	var target *session.Session
	for _, s := range srv.reg.All() {
		if s.ID() == req.SessionID {
			target = s
			break
		}
	}
	if target == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no session #%d", req.SessionID))
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "Disconnected by an administrator."
	}
	target.Disconnect(reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "kicked"})
}

func (srv *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message required")
		return
	}
	srv.Broadcast(req.Message)
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (srv *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if srv.audit == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "audit log disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeJSONError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}
	events, err := srv.audit.Recent(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (srv *Server) handleAdminBackup(w http.ResponseWriter, r *http.Request) {
	if srv.live.Get().BackupDir == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "backups not configured")
		return
	}
	path, err := srv.Backup()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "written", "path": path})
}

func (srv *Server) handleAdminBackups(w http.ResponseWriter, r *http.Request) {
	dir := srv.live.Get().BackupDir
	if dir == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "backups not configured")
		return
	}
	backups, err := archive.List(dir)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}
