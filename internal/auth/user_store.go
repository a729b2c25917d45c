package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserStore is the system of record for accounts. Lookups return nil
// without error when no row matches; mutations are durable before they
// return.
type UserStore interface {
	Create(ctx context.Context, username, email, passwordHash string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	MarkVerified(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	TouchLastLogin(ctx context.Context, id int64) error
	UpdatePasswordHash(ctx context.Context, id int64, newHash string) error
}

type PostgresUserStore struct {
	db *pgxpool.Pool
}

func NewPostgresUserStore(db *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userCols = `id, username, email, password_hash, is_verified, is_active, created_at, updated_at, last_login`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.IsVerified, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresUserStore) Create(ctx context.Context, username, email, passwordHash string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userCols,
		username, email, passwordHash)

	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, storeErr("create user", err)
	}
	return user, nil
}

func (s *PostgresUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.findOne(ctx, "find user by username", `SELECT `+userCols+` FROM users WHERE username = $1`, username)
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, "find user by email", `SELECT `+userCols+` FROM users WHERE email = $1`, email)
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	return s.findOne(ctx, "find user by id", `SELECT `+userCols+` FROM users WHERE id = $1`, id)
}

func (s *PostgresUserStore) findOne(ctx context.Context, op, query string, arg any) (*User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return user, nil
}

func (s *PostgresUserStore) MarkVerified(ctx context.Context, id int64) error {
	return s.exec(ctx, "mark verified",
		`UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

func (s *PostgresUserStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.exec(ctx, "set active",
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

func (s *PostgresUserStore) TouchLastLogin(ctx context.Context, id int64) error {
	return s.exec(ctx, "touch last login",
		`UPDATE users SET last_login = NOW(), updated_at = NOW() WHERE id = $1`, id)
}

func (s *PostgresUserStore) UpdatePasswordHash(ctx context.Context, id int64, newHash string) error {
	return s.exec(ctx, "update password hash",
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, newHash)
}

func (s *PostgresUserStore) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// failure (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
