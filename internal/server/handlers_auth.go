package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/reelfeed/reelfeed/internal/api"
	"github.com/reelfeed/reelfeed/internal/httputil"
)

const maxCredentialLength = 256

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authStatus struct {
	SignedIn  bool       `json:"signedIn"`
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if len(req.Email) > maxCredentialLength || len(req.Password) > maxCredentialLength {
		httputil.WriteError(w, http.StatusBadRequest, "email or password is too long")
		return
	}

	token, err := s.backend.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, "login", err)
		return
	}
	s.storeToken(w, token, http.StatusOK)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}
	if len(req.Username) > maxCredentialLength || len(req.Email) > maxCredentialLength || len(req.Password) > maxCredentialLength {
		httputil.WriteError(w, http.StatusBadRequest, "field is too long")
		return
	}

	token, err := s.backend.Register(r.Context(), api.Registration{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.writeAuthError(w, "register", err)
		return
	}
	s.storeToken(w, token, http.StatusCreated)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.credentials.Clear(); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear credentials")
		httputil.WriteError(w, http.StatusInternalServerError, "could not sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.authStatus())
}

func (s *Server) storeToken(w http.ResponseWriter, token string, status int) {
	if err := s.credentials.Save(token); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist token")
		httputil.WriteError(w, http.StatusInternalServerError, "could not save sign-in")
		return
	}
	httputil.WriteJSON(w, status, s.authStatus())
}

func (s *Server) authStatus() authStatus {
	claims, ok := s.credentials.Claims()
	if !ok {
		return authStatus{}
	}
	status := authStatus{SignedIn: true, Subject: claims.Subject}
	if !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		status.ExpiresAt = &exp
	}
	return status
}

// writeAuthError relays backend rejections (bad password, taken email,
// expired token, unknown video) as 4xx and everything else as a gateway
// failure.
func (s *Server) writeAuthError(w http.ResponseWriter, op string, err error) {
	var apiErr *api.Error
	switch {
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		status := apiErr.Status
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		httputil.WriteError(w, status, api.Message(err))
	default:
		s.logger.Warn().Err(err).Str("op", op).Msg("backend request failed")
		httputil.WriteError(w, http.StatusBadGateway, api.Message(err))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	plays, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load play history")
		httputil.WriteError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"plays": plays})
}
