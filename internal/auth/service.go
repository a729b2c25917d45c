package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// EmailKind selects the template the dispatcher renders.
type EmailKind string

const (
	EmailKindVerification EmailKind = "verification"
	EmailKindReset        EmailKind = "reset"
)

// EmailDispatcher hands a token to the outbound email transport.
// Delivery is best-effort and outside this package's failure domain.
type EmailDispatcher interface {
	Send(ctx context.Context, to string, kind EmailKind, token string) error
}

type ServiceConfig struct {
	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
	SessionTTL           time.Duration

	// RequireVerified rejects logins from unverified accounts before any
	// session or last_login side effect.
	RequireVerified bool
}

func (c *ServiceConfig) applyDefaults() {
	if c.VerificationTokenTTL <= 0 {
		c.VerificationTokenTTL = 24 * time.Hour
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = time.Hour
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 7 * 24 * time.Hour
	}
}

// Service orchestrates the credential flows over injected stores. It
// holds no mutable state of its own; every method is safe for
// concurrent use.
type Service struct {
	users    UserStore
	verify   TokenStore
	reset    TokenStore
	sessions SessionStore
	hasher   PasswordHasher
	mailer   EmailDispatcher
	logger   zerolog.Logger
	cfg      ServiceConfig
}

func NewService(
	users UserStore,
	verify, reset TokenStore,
	sessions SessionStore,
	hasher PasswordHasher,
	mailer EmailDispatcher,
	logger zerolog.Logger,
	cfg ServiceConfig,
) *Service {
	cfg.applyDefaults()
	return &Service{
		users:    users,
		verify:   verify,
		reset:    reset,
		sessions: sessions,
		hasher:   hasher,
		mailer:   mailer,
		logger:   logger,
		cfg:      cfg,
	}
}

type RegisterResult struct {
	User      *User
	EmailSent bool
}

// Register creates an unverified account, issues a verification token
// and dispatches it. The user is not logged in; a failed email dispatch
// does not fail the registration.
func (s *Service) Register(ctx context.Context, username, email, password string) (*RegisterResult, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	var user *User
	if err := s.withRetry(ctx, "create user", func() error {
		var err error
		user, err = s.users.Create(ctx, username, email, hash)
		return err
	}); err != nil {
		return nil, err
	}

	var token string
	if err := s.withRetry(ctx, "issue verification token", func() error {
		var err error
		token, err = s.verify.Issue(ctx, user.ID, s.cfg.VerificationTokenTTL)
		return err
	}); err != nil {
		return nil, err
	}

	return &RegisterResult{User: user, EmailSent: s.dispatch(ctx, email, EmailKindVerification, token)}, nil
}

// VerifyEmail redeems a verification token and flips is_verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	var userID int64
	if err := s.withRetry(ctx, "redeem verification token", func() error {
		var err error
		userID, err = s.verify.Redeem(ctx, token)
		return err
	}); err != nil {
		return err
	}
	return s.withRetry(ctx, "mark verified", func() error {
		return s.users.MarkVerified(ctx, userID)
	})
}

// ResendVerification re-issues the verification token. Unknown and
// already-verified addresses return success without issuing anything so
// the endpoint cannot be used to probe for accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	var user *User
	if err := s.withRetry(ctx, "find user", func() error {
		var err error
		user, err = s.users.FindByEmail(ctx, email)
		return err
	}); err != nil {
		return err
	}
	if user == nil || user.IsVerified || !user.IsActive {
		return nil
	}

	var token string
	if err := s.withRetry(ctx, "issue verification token", func() error {
		var err error
		token, err = s.verify.Issue(ctx, user.ID, s.cfg.VerificationTokenTTL)
		return err
	}); err != nil {
		return err
	}
	s.dispatch(ctx, user.Email, EmailKindVerification, token)
	return nil
}

type LoginResult struct {
	UserID       int64
	SessionToken string
	Verified     bool
}

// Login authenticates and opens a session. Unknown username and wrong
// password return the same ErrInvalidCredentials. By default an
// unverified account logs in fine and the flag is surfaced for the
// caller; with RequireVerified set the attempt is rejected before any
// last_login or session side effect.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var user *User
	if err := s.withRetry(ctx, "find user", func() error {
		var err error
		user, err = s.users.FindByUsername(ctx, username)
		return err
	}); err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if s.cfg.RequireVerified && !user.IsVerified {
		return nil, ErrAccountNotVerified
	}

	if err := s.withRetry(ctx, "touch last login", func() error {
		return s.users.TouchLastLogin(ctx, user.ID)
	}); err != nil {
		return nil, err
	}

	var token string
	if err := s.withRetry(ctx, "create session", func() error {
		var err error
		token, err = s.sessions.Create(ctx, user.ID, s.cfg.SessionTTL)
		return err
	}); err != nil {
		return nil, err
	}

	return &LoginResult{UserID: user.ID, SessionToken: token, Verified: user.IsVerified}, nil
}

// RequestPasswordReset issues a reset token and dispatches it. An
// unknown or deactivated address returns success without a token, so
// the response never reveals whether the email exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	var user *User
	if err := s.withRetry(ctx, "find user", func() error {
		var err error
		user, err = s.users.FindByEmail(ctx, email)
		return err
	}); err != nil {
		return err
	}
	if user == nil || !user.IsActive {
		return nil
	}

	var token string
	if err := s.withRetry(ctx, "issue reset token", func() error {
		var err error
		token, err = s.reset.Issue(ctx, user.ID, s.cfg.ResetTokenTTL)
		return err
	}); err != nil {
		return err
	}
	s.dispatch(ctx, user.Email, EmailKindReset, token)
	return nil
}

// ResetPassword redeems a reset token, installs the new password and
// revokes every session the user had, forcing a fresh login everywhere.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	var userID int64
	if err := s.withRetry(ctx, "redeem reset token", func() error {
		var err error
		userID, err = s.reset.Redeem(ctx, token)
		return err
	}); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.withRetry(ctx, "update password hash", func() error {
		return s.users.UpdatePasswordHash(ctx, userID, hash)
	}); err != nil {
		return err
	}
	return s.withRetry(ctx, "revoke sessions", func() error {
		return s.sessions.RevokeAll(ctx, userID)
	})
}

// Logout revokes the session; revoking an absent token succeeds.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	return s.withRetry(ctx, "revoke session", func() error {
		return s.sessions.Revoke(ctx, sessionToken)
	})
}

// WhoAmI resolves a session token to its user. A session whose user has
// since been deactivated is revoked on sight, keeping the invariant
// that a valid session always maps to an active account.
func (s *Service) WhoAmI(ctx context.Context, sessionToken string) (*User, error) {
	var userID int64
	var ok bool
	if err := s.withRetry(ctx, "validate session", func() error {
		var err error
		userID, ok, err = s.sessions.Validate(ctx, sessionToken)
		return err
	}); err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var user *User
	if err := s.withRetry(ctx, "find user", func() error {
		var err error
		user, err = s.users.FindByID(ctx, userID)
		return err
	}); err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		_ = s.sessions.Revoke(ctx, sessionToken)
		return nil, nil
	}
	return user, nil
}

// Deactivate disables the account and revokes all of its sessions.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	if err := s.withRetry(ctx, "set active", func() error {
		return s.users.SetActive(ctx, userID, false)
	}); err != nil {
		return err
	}
	return s.withRetry(ctx, "revoke sessions", func() error {
		return s.sessions.RevokeAll(ctx, userID)
	})
}

// SweepExpired removes expired rows from both token tables and the
// session table. Safe to run concurrently with the live flows.
func (s *Service) SweepExpired(ctx context.Context) error {
	var errs []error
	for _, sweep := range []struct {
		name  string
		store interface {
			SweepExpired(context.Context) (int64, error)
		}
	}{
		{"verification tokens", s.verify},
		{"reset tokens", s.reset},
		{"sessions", s.sessions},
	} {
		removed, err := sweep.store.SweepExpired(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed > 0 {
			s.logger.Info().Int64("removed", removed).Str("kind", sweep.name).Msg("swept expired rows")
		}
	}
	return errors.Join(errs...)
}

// withRetry runs fn and retries it exactly once when the failure is a
// store outage. Every other error is meaningful to the caller and
// passes through untouched.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err != nil && errors.Is(err, ErrStoreUnavailable) && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("store unavailable, retrying once")
		err = fn()
	}
	return err
}

// dispatch hands the token to the email collaborator. Failures are
// reported upward through the return value and the log, never as flow
// errors: the token stays valid and redeemable regardless.
func (s *Service) dispatch(ctx context.Context, to string, kind EmailKind, token string) bool {
	if err := s.mailer.Send(ctx, to, kind, token); err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("email dispatch failed")
		return false
	}
	return true
}
