package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Session stands in for an authenticated user on subsequent requests.
// Expiry is fixed at creation; there is no sliding extension.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionStore issues and checks session tokens. Validate is the hot
// path of every authenticated request and must not block on writes.
type SessionStore interface {
	Create(ctx context.Context, userID int64, ttl time.Duration) (string, error)
	Validate(ctx context.Context, token string) (int64, bool, error)
	Revoke(ctx context.Context, token string) error
	RevokeAll(ctx context.Context, userID int64) error
	SweepExpired(ctx context.Context) (int64, error)
}

// RedisSessionStore keeps user_sessions in Postgres as the system of
// record and mirrors live tokens into Redis with a matching TTL. Reads
// hit Redis first and fall back to Postgres on a miss or after a cache
// restart, repopulating as they go.
type RedisSessionStore struct {
	db     *pgxpool.Pool
	cache  *redis.Client
	gen    *TokenGenerator
	logger zerolog.Logger
}

func NewRedisSessionStore(db *pgxpool.Pool, cache *redis.Client, gen *TokenGenerator, logger zerolog.Logger) *RedisSessionStore {
	return &RedisSessionStore{db: db, cache: cache, gen: gen, logger: logger}
}

func sessionKey(token string) string {
	return "session:" + token
}

func (s *RedisSessionStore) Create(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	var token string
	for attempt := 0; ; attempt++ {
		var err error
		token, err = s.gen.Generate()
		if err != nil {
			return "", err
		}
		_, err = s.db.Exec(ctx, `
			INSERT INTO user_sessions (user_id, session_token, expires_at)
			VALUES ($1, $2, $3)`,
			userID, token, time.Now().UTC().Add(ttl))
		if err == nil {
			break
		}
		if isUniqueViolation(err) && attempt == 0 {
			continue
		}
		if isUniqueViolation(err) {
			return "", ErrTokenIssuanceFailed
		}
		return "", storeErr("create session", err)
	}

	// Postgres is authoritative; a failed cache write only costs one
	// fallback read later.
	if err := s.cache.Set(ctx, sessionKey(token), strconv.FormatInt(userID, 10), ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("session cache write failed")
	}
	return token, nil
}

func (s *RedisSessionStore) Validate(ctx context.Context, token string) (int64, bool, error) {
	val, err := s.cache.Get(ctx, sessionKey(token)).Result()
	if err == nil {
		userID, parseErr := strconv.ParseInt(val, 10, 64)
		if parseErr == nil {
			return userID, true, nil
		}
		s.logger.Warn().Str("value", val).Msg("malformed session cache entry")
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Msg("session cache read failed")
	}

	row := s.db.QueryRow(ctx, `
		SELECT user_id, expires_at FROM user_sessions WHERE session_token = $1`,
		token)

	var userID int64
	var expiresAt time.Time
	if err := row.Scan(&userID, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, storeErr("validate session", err)
	}

	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		_, _ = s.db.Exec(ctx, `DELETE FROM user_sessions WHERE session_token = $1`, token)
		return 0, false, nil
	}

	if err := s.cache.Set(ctx, sessionKey(token), strconv.FormatInt(userID, 10), remaining).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("session cache repopulate failed")
	}
	return userID, true, nil
}

// Revoke deletes a session on both sides. Revoking an absent token is a
// no-op success. A failed cache delete is an error, not a log line:
// Validate trusts cache hits, so a stale key would keep the session
// alive until its TTL.
func (s *RedisSessionStore) Revoke(ctx context.Context, token string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM user_sessions WHERE session_token = $1`, token); err != nil {
		return storeErr("revoke session", err)
	}
	if err := s.cache.Del(ctx, sessionKey(token)).Err(); err != nil {
		return storeErr("revoke session cache", err)
	}
	return nil
}

func (s *RedisSessionStore) RevokeAll(ctx context.Context, userID int64) error {
	rows, err := s.db.Query(ctx, `
		SELECT session_token FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return storeErr("list sessions", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return storeErr("list sessions", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return storeErr("list sessions", err)
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID); err != nil {
		return storeErr("revoke all sessions", err)
	}

	if len(tokens) > 0 {
		pipe := s.cache.TxPipeline()
		for _, token := range tokens {
			pipe.Del(ctx, sessionKey(token))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return storeErr("revoke all sessions cache", err)
		}
	}
	return nil
}

// SweepExpired clears expired durable rows. The Redis mirrors carry
// their own TTLs and expire on their own.
func (s *RedisSessionStore) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, storeErr("sweep expired sessions", err)
	}
	return tag.RowsAffected(), nil
}
