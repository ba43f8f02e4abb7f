package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

// handleAuthLogin exchanges account credentials for a JWT usable by the
// WebSocket transport's token auto-login.
func (srv *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	token, err := srv.auth.Login(req.Name, req.Password)
	if err != nil {
		if errors.Is(err, ErrBanned) {
			writeJSONError(w, http.StatusForbidden, "account is banned")
			return
		}
		srv.metrics.LoginFailures.Inc()
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleAuthRefresh trades a still-valid token for a fresh one.
func (srv *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	token, err := srv.auth.RefreshToken(req.Token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
