package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dhernos/credstore/internal/auth"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil || !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))

	if s.Limiter != nil {
		if wait := s.Limiter.ResetRequestCooldown(r.Context(), email); wait > 0 {
			writeError(w, http.StatusTooManyRequests,
				fmt.Sprintf("please wait %d seconds before requesting another reset", int(wait.Seconds())))
			return
		}
	}

	// Same body whether or not the address is registered.
	if err := s.Service.RequestPasswordReset(r.Context(), email); err != nil {
		if errors.Is(err, auth.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		s.Logger.Error().Err(err).Msg("password reset request failed")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the address belongs to an account, a password reset email has been sent",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusBadRequest, "reset link has expired, please request a new one")
		case errors.Is(err, auth.ErrTokenNotFound):
			writeError(w, http.StatusBadRequest, "invalid reset link")
		case errors.Is(err, auth.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		default:
			s.Logger.Error().Err(err).Msg("password reset failed")
			writeError(w, http.StatusInternalServerError, "password reset failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "password updated, please log in with your new password",
	})
}
