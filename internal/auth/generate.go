package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const defaultTokenBytes = 32

// TokenGenerator produces fixed-length, URL-safe, crypto-random token
// strings. 32 bytes of entropy encode to 43 characters.
type TokenGenerator struct {
	Bytes int
}

func NewTokenGenerator(numBytes int) *TokenGenerator {
	if numBytes <= 0 {
		numBytes = defaultTokenBytes
	}
	return &TokenGenerator{Bytes: numBytes}
}

func (g *TokenGenerator) Generate() (string, error) {
	buf := make([]byte, g.Bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
