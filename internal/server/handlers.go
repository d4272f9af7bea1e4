package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ghaggin/homepage/internal/repository"
	"go.uber.org/zap"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed writing response", zap.Int("status", status), zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	u, err := s.controller.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.log.Error("login failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.sessions.SetAuthenticated(r.Context(), u); err != nil {
		s.log.Error("failed to store session", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.log.Info("user logged in", zap.String("username", u.Name))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message":  "login successful",
		"username": u.Name,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Clear(r.Context()); err != nil {
		s.log.Error("failed to clear session", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context())
	if err == nil {
		// the user may have been removed since the session was issued
		u, err := s.controller.User(r.Context(), sess.UserID)
		if err == nil {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"authenticated": true,
				"username":      u.Name,
			})
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	sess, err := s.sessions.Get(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "login required")
		return
	}

	err = s.controller.ChangePassword(r.Context(), sess.UserID, req.OldPassword, req.NewPassword)
	switch {
	case errors.Is(err, ErrWrongPassword), errors.Is(err, ErrEmptyPassword):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		s.writeError(w, http.StatusUnauthorized, "login required")
	case err != nil:
		s.log.Error("change password failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
	}
}
