package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dhernos/credstore/internal/auth"
	"github.com/dhernos/credstore/internal/auth/authtest"
	"github.com/dhernos/credstore/internal/config"
)

type testEnv struct {
	router http.Handler
	mailer *authtest.DispatchRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, auth.ServiceConfig{})
}

func newTestEnvWithConfig(t *testing.T, cfg auth.ServiceConfig) *testEnv {
	t.Helper()

	mailer := &authtest.DispatchRecorder{}
	svc := auth.NewService(
		authtest.NewMemoryUserStore(),
		authtest.NewMemoryTokenStore(),
		authtest.NewMemoryTokenStore(),
		authtest.NewMemorySessionStore(),
		auth.NewBcryptHasher(bcrypt.MinCost),
		mailer,
		zerolog.Nop(),
		cfg,
	)

	srv := NewServer(config.Config{}, svc, nil, zerolog.Nop())
	return &testEnv{router: srv.Router(), mailer: mailer}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, username, email string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/register", map[string]string{
		"username": username,
		"email":    email,
		"password": "Password1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) login(t *testing.T, username string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": "Password1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestRegisterHappyPath(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/register", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "Password1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["email_sent"])

	sent := env.mailer.Last()
	require.NotNil(t, sent)
	assert.Equal(t, "alice@example.com", sent.To)
	assert.Equal(t, auth.EmailKindVerification, sent.Kind)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"short username", map[string]string{"username": "ab", "email": "a@x.com", "password": "Password1"}},
		{"bad username chars", map[string]string{"username": "al ice!", "email": "a@x.com", "password": "Password1"}},
		{"bad email", map[string]string{"username": "alice", "email": "not-an-email", "password": "Password1"}},
		{"short password", map[string]string{"username": "alice", "email": "a@x.com", "password": "Pw1"}},
		{"no uppercase", map[string]string{"username": "alice", "email": "a@x.com", "password": "password1"}},
		{"no digit", map[string]string{"username": "alice", "email": "a@x.com", "password": "Passwords"}},
		{"over bcrypt limit", map[string]string{"username": "alice", "email": "a@x.com", "password": "Aa1" + strings.Repeat("x", 77)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/register", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPasswordLengthBoundary(t *testing.T) {
	env := newTestEnv(t)

	// 72 bytes is bcrypt's input limit: exactly at the limit registers,
	// one byte over is a validation failure, not a server error.
	atLimit := "Aa1" + strings.Repeat("x", 69)
	rec := env.do(t, http.MethodPost, "/api/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": atLimit,
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/register", map[string]string{
		"username": "bob", "email": "bob@example.com", "password": atLimit + "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/reset-password", map[string]string{
		"token": "whatever", "new_password": atLimit + "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterDuplicateConflict(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	rec := env.do(t, http.MethodPost, "/api/register", map[string]string{
		"username": "alice",
		"email":    "other@example.com",
		"password": "Password1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVerifyEmailFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")
	token := env.mailer.Last().Token

	rec := env.do(t, http.MethodPost, "/api/verify-email", map[string]string{"token": token})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Single use: the second redemption fails.
	rec = env.do(t, http.MethodPost, "/api/verify-email", map[string]string{"token": token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEmailUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/verify-email", map[string]string{"token": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResendVerificationAlwaysOK(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	known := env.do(t, http.MethodPost, "/api/resend-verification", map[string]string{"email": "alice@example.com"})
	unknown := env.do(t, http.MethodPost, "/api/resend-verification", map[string]string{"email": "ghost@example.com"})

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
}

func TestLoginSetsSessionCookie(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "Password1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
}

func TestLoginWrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	wrong := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "Wrong1pass",
	})
	unknown := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "ghost", "password": "Wrong1pass",
	})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestLoginRequireVerified(t *testing.T) {
	env := newTestEnvWithConfig(t, auth.ServiceConfig{RequireVerified: true})
	env.register(t, "alice", "alice@example.com")

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "Password1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// After verification the same credentials work.
	token := env.mailer.Sent()[0].Token
	env.do(t, http.MethodPost, "/api/verify-email", map[string]string{"token": token})

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "Password1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")
	cookie := env.login(t, "alice")

	rec := env.do(t, http.MethodGet, "/api/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp["username"])
	assert.Equal(t, "alice@example.com", resp["email"])
}

func TestMeWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")
	cookie := env.login(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutSessionStillOK(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotAndResetPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")
	cookie := env.login(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	sent := env.mailer.Last()
	require.NotNil(t, sent)
	require.Equal(t, auth.EmailKindReset, sent.Kind)

	rec = env.do(t, http.MethodPost, "/api/reset-password", map[string]string{
		"token": sent.Token, "new_password": "Newpassword2",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// The reset revoked the old session.
	rec = env.do(t, http.MethodGet, "/api/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Old password is dead, new one works.
	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "Password1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "Newpassword2",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotPasswordUnknownEmailLooksIdentical(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com")

	known := env.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "alice@example.com"})
	unknown := env.do(t, http.MethodPost, "/api/forgot-password", map[string]string{"email": "ghost@example.com"})

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
}

func TestResetPasswordRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/reset-password", map[string]string{
		"token": "whatever", "new_password": "weak",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetPasswordUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/reset-password", map[string]string{
		"token": "nope", "new_password": "Newpassword2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/me", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestClientIPTrustsConfiguredProxiesOnly(t *testing.T) {
	trusted := parseProxyCIDRs([]string{"10.0.0.0/8"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.2.3")
	assert.Equal(t, "203.0.113.9", clientIP(req, trusted))

	req.RemoteAddr = "198.51.100.7:5000"
	assert.Equal(t, "198.51.100.7", clientIP(req, trusted))

	assert.Equal(t, "198.51.100.7", clientIP(req, nil))
}

func TestMalformedJSONIsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/register", "/api/verify-email", "/api/resend-verification",
		"/api/auth/login", "/api/forgot-password", "/api/reset-password",
	} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, fmt.Sprintf("path %s", path))
	}
}
