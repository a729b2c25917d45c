package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dhernos/credstore/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if err := validateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if err := validatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.Service.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateKey):
			writeError(w, http.StatusConflict, "username or email is already taken")
		case errors.Is(err, auth.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		default:
			s.Logger.Error().Err(err).Msg("register failed")
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "registration successful, please check your email to verify your account",
		"user_id":    result.User.ID,
		"email_sent": result.EmailSent,
	})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.Service.VerifyEmail(r.Context(), req.Token); err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusBadRequest, "verification link has expired, please request a new one")
		case errors.Is(err, auth.ErrTokenNotFound):
			writeError(w, http.StatusBadRequest, "invalid verification link")
		case errors.Is(err, auth.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		default:
			s.Logger.Error().Err(err).Msg("email verification failed")
			writeError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "email verified successfully"})
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if err := decodeJSON(r, &req); err != nil || !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))

	// The response is identical whether or not the account exists.
	if err := s.Service.ResendVerification(r.Context(), email); err != nil {
		if errors.Is(err, auth.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		s.Logger.Error().Err(err).Msg("resend verification failed")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the address belongs to an unverified account, a new verification email has been sent",
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, s.trustedProxies)

	if s.Limiter != nil && s.Limiter.IsLoginLocked(r.Context(), ip) {
		writeError(w, http.StatusTooManyRequests, "too many failed login attempts, try again later")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.Service.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			if s.Limiter != nil {
				if lerr := s.Limiter.RegisterLoginFailure(r.Context(), ip); lerr != nil {
					s.Logger.Warn().Err(lerr).Msg("rate limiter unavailable")
				}
			}
			writeError(w, http.StatusUnauthorized, "invalid username or password")
		case errors.Is(err, auth.ErrAccountDisabled):
			writeError(w, http.StatusForbidden, "account is disabled")
		case errors.Is(err, auth.ErrAccountNotVerified):
			writeError(w, http.StatusForbidden, "please verify your email address before logging in")
		case errors.Is(err, auth.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		default:
			s.Logger.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	if s.Limiter != nil {
		s.Limiter.ResetLogin(r.Context(), ip)
	}

	auth.SetSessionCookie(w, result.SessionToken, time.Now().Add(s.Config.SessionTTL))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "login successful",
		"user_id":  result.UserID,
		"verified": result.Verified,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
		if err := s.Service.Logout(r.Context(), cookie.Value); err != nil {
			s.Logger.Warn().Err(err).Msg("session revocation failed")
		}
	}

	auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := s.Service.WhoAmI(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		s.Logger.Error().Err(err).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if user == nil {
		auth.ClearSessionCookie(w)
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"verified":   user.IsVerified,
		"created_at": user.CreatedAt,
		"last_login": user.LastLogin,
	})
}
