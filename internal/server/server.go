package server

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dhernos/credstore/internal/auth"
	"github.com/dhernos/credstore/internal/config"
)

// Server exposes the credential flows over HTTP. Everything beyond
// decoding, validation and status mapping lives in auth.Service.
type Server struct {
	Service *auth.Service
	Limiter *auth.RateLimiter
	Config  config.Config
	Logger  zerolog.Logger

	trustedProxies []net.IPNet
}

func NewServer(cfg config.Config, svc *auth.Service, limiter *auth.RateLimiter, logger zerolog.Logger) *Server {
	return &Server{
		Service:        svc,
		Limiter:        limiter,
		Config:         cfg,
		Logger:         logger,
		trustedProxies: parseProxyCIDRs(cfg.TrustedProxies),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.Logger))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/verify-email", s.handleVerifyEmail)
	r.Post("/api/resend-verification", s.handleResendVerification)
	r.Post("/api/forgot-password", s.handleForgotPassword)
	r.Post("/api/reset-password", s.handleResetPassword)

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)

	r.Get("/api/me", s.handleMe)

	return r
}
