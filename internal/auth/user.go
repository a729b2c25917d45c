package auth

import "time"

// User is the durable account record. Values are constructed by the
// UserStore only; callers never mutate them.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsVerified   bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time
}
