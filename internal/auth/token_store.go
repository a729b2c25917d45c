package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Token is a single-use, time-bound credential-flow token. Email
// verification and password reset use the same shape in separate tables.
type Token struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenStore holds single-use tokens for one flow. At most one valid
// token per user is outstanding: Issue replaces any prior token, and
// Redeem consumes atomically so concurrent redemptions of the same token
// yield exactly one success.
type TokenStore interface {
	Issue(ctx context.Context, userID int64, ttl time.Duration) (string, error)
	Redeem(ctx context.Context, token string) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type PostgresTokenStore struct {
	db    *pgxpool.Pool
	gen   *TokenGenerator
	table string
}

func NewVerificationTokenStore(db *pgxpool.Pool, gen *TokenGenerator) *PostgresTokenStore {
	return &PostgresTokenStore{db: db, gen: gen, table: "email_verification_tokens"}
}

func NewPasswordResetTokenStore(db *pgxpool.Pool, gen *TokenGenerator) *PostgresTokenStore {
	return &PostgresTokenStore{db: db, gen: gen, table: "password_reset_tokens"}
}

// Issue replaces any existing token for userID with a fresh one expiring
// at now+ttl. A token collision aborts the transaction, so the retry
// restarts it; a second collision is alarm-worthy, not user-facing.
func (s *PostgresTokenStore) Issue(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := s.issueOnce(ctx, userID, ttl)
		if err == nil {
			return token, nil
		}
		if !isUniqueViolation(err) {
			return "", err
		}
	}
	return "", ErrTokenIssuanceFailed
}

func (s *PostgresTokenStore) issueOnce(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	token, err := s.gen.Generate()
	if err != nil {
		return "", err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", storeErr("issue token", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM `+s.table+` WHERE user_id = $1`, userID); err != nil {
		return "", storeErr("invalidate prior tokens", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO `+s.table+` (user_id, token, expires_at)
		VALUES ($1, $2, $3)`,
		userID, token, time.Now().UTC().Add(ttl)); err != nil {
		if isUniqueViolation(err) {
			return "", err
		}
		return "", storeErr("insert token", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", storeErr("issue token", err)
	}
	return token, nil
}

// Redeem consumes token and returns the owning user id. The conditional
// DELETE ... RETURNING is the atomic check-and-delete: the row is gone
// after the first call whether it was live or expired.
func (s *PostgresTokenStore) Redeem(ctx context.Context, token string) (int64, error) {
	row := s.db.QueryRow(ctx, `
		DELETE FROM `+s.table+` WHERE token = $1
		RETURNING user_id, expires_at`,
		token)

	var userID int64
	var expiresAt time.Time
	if err := row.Scan(&userID, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrTokenNotFound
		}
		return 0, storeErr("redeem token", err)
	}

	if time.Now().After(expiresAt) {
		return 0, ErrTokenExpired
	}
	return userID, nil
}

func (s *PostgresTokenStore) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.table+` WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, storeErr("sweep expired tokens", err)
	}
	return tag.RowsAffected(), nil
}
