// Package authtest provides in-memory implementations of the auth
// store interfaces for tests. They mirror the Postgres/Redis semantics:
// single-use token redemption, issue-replaces-prior, fixed session TTL.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/dhernos/credstore/internal/auth"
)

type MemoryUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*auth.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[int64]*auth.User)}
}

func (s *MemoryUserStore) Create(_ context.Context, username, email, passwordHash string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username || u.Email == email {
			return nil, auth.ErrDuplicateKey
		}
	}

	s.nextID++
	now := time.Now().UTC()
	u := &auth.User{
		ID:           s.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	copied := *u
	return &copied, nil
}

func (s *MemoryUserStore) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	return s.find(func(u *auth.User) bool { return u.Username == username })
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	return s.find(func(u *auth.User) bool { return u.Email == email })
}

func (s *MemoryUserStore) FindByID(_ context.Context, id int64) (*auth.User, error) {
	return s.find(func(u *auth.User) bool { return u.ID == id })
}

func (s *MemoryUserStore) find(match func(*auth.User) bool) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryUserStore) MarkVerified(_ context.Context, id int64) error {
	return s.mutate(id, func(u *auth.User) { u.IsVerified = true })
}

func (s *MemoryUserStore) SetActive(_ context.Context, id int64, active bool) error {
	return s.mutate(id, func(u *auth.User) { u.IsActive = active })
}

func (s *MemoryUserStore) TouchLastLogin(_ context.Context, id int64) error {
	return s.mutate(id, func(u *auth.User) {
		now := time.Now().UTC()
		u.LastLogin = &now
	})
}

func (s *MemoryUserStore) UpdatePasswordHash(_ context.Context, id int64, newHash string) error {
	return s.mutate(id, func(u *auth.User) { u.PasswordHash = newHash })
}

func (s *MemoryUserStore) mutate(id int64, fn func(*auth.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		fn(u)
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

type MemoryTokenStore struct {
	mu     sync.Mutex
	gen    *auth.TokenGenerator
	tokens map[string]auth.Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		gen:    auth.NewTokenGenerator(0),
		tokens: make(map[string]auth.Token),
	}
}

func (s *MemoryTokenStore) Issue(_ context.Context, userID int64, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, token)
		}
	}

	token, err := s.gen.Generate()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	s.tokens[token] = auth.Token{Token: token, UserID: userID, ExpiresAt: now.Add(ttl), CreatedAt: now}
	return token, nil
}

func (s *MemoryTokenStore) Redeem(_ context.Context, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return 0, auth.ErrTokenNotFound
	}
	delete(s.tokens, token)
	if time.Now().After(t.ExpiresAt) {
		return 0, auth.ErrTokenExpired
	}
	return t.UserID, nil
}

func (s *MemoryTokenStore) SweepExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	now := time.Now()
	for token, t := range s.tokens {
		if now.After(t.ExpiresAt) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed, nil
}

// Expire backdates an outstanding token so expiry paths can be tested
// without sleeping.
func (s *MemoryTokenStore) Expire(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok {
		t.ExpiresAt = time.Now().Add(-time.Minute)
		s.tokens[token] = t
	}
}

type MemorySessionStore struct {
	mu       sync.Mutex
	gen      *auth.TokenGenerator
	sessions map[string]auth.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		gen:      auth.NewTokenGenerator(0),
		sessions: make(map[string]auth.Session),
	}
}

func (s *MemorySessionStore) Create(_ context.Context, userID int64, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.gen.Generate()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	s.sessions[token] = auth.Session{Token: token, UserID: userID, ExpiresAt: now.Add(ttl), CreatedAt: now}
	return token, nil
}

func (s *MemorySessionStore) Validate(_ context.Context, token string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return 0, false, nil
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(s.sessions, token)
		return 0, false, nil
	}
	return sess.UserID, true, nil
}

func (s *MemorySessionStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemorySessionStore) RevokeAll(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, token)
		}
	}
	return nil
}

func (s *MemorySessionStore) SweepExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	now := time.Now()
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// SentEmail is one dispatcher call captured by DispatchRecorder.
type SentEmail struct {
	To    string
	Kind  auth.EmailKind
	Token string
}

// DispatchRecorder implements auth.EmailDispatcher and records every
// send. Set Err to simulate a transport failure.
type DispatchRecorder struct {
	mu   sync.Mutex
	Err  error
	sent []SentEmail
}

func (d *DispatchRecorder) Send(_ context.Context, to string, kind auth.EmailKind, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.sent = append(d.sent, SentEmail{To: to, Kind: kind, Token: token})
	return nil
}

func (d *DispatchRecorder) Sent() []SentEmail {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SentEmail, len(d.sent))
	copy(out, d.sent)
	return out
}

// Last returns the most recent send, or nil when nothing was sent.
func (d *DispatchRecorder) Last() *SentEmail {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		return nil
	}
	last := d.sent[len(d.sent)-1]
	return &last
}
