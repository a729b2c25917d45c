package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when a username or email is already taken.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidCredentials covers both unknown username and wrong password so
	// callers cannot probe for valid usernames.
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrAccountDisabled = errors.New("account is deactivated")

	// ErrAccountNotVerified is returned by Login when verification is
	// required by policy and the account has not verified its email. Only
	// emitted after the password checked out, so it leaks nothing to
	// guessers.
	ErrAccountNotVerified = errors.New("account email is not verified")

	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")

	// ErrTokenIssuanceFailed signals two consecutive token collisions, which
	// points at a broken random source rather than bad user input.
	ErrTokenIssuanceFailed = errors.New("token issuance failed")

	// ErrStoreUnavailable wraps any unexpected store or cache failure,
	// including timeouts. A timeout must never read as "not found".
	ErrStoreUnavailable = errors.New("store unavailable")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
