// Package auth generates, persists, and validates the single shared bearer
// token that is the daemon's entire authorization model:
// "provides no authorization beyond a single shared bearer token validated
// at the edge".
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tokenBytes is the amount of random entropy behind the bearer token.
const tokenBytes = 32

// LoadOrCreate reads the token at path, creating one (mode 0600) if absent.
func LoadOrCreate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write token file: %w", err)
	}

	return token, nil
}

// Validate performs a constant-time comparison of a bearer token against the
// daemon's token, to avoid leaking timing information about a correct prefix.
func Validate(expected, candidate string) bool {
	a := []byte(expected)
	b := []byte(candidate)
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// BearerFromHeader extracts the token from an "Authorization: Bearer <token>"
// header value, or "" if the header isn't a bearer token.
func BearerFromHeader(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

// generateToken generates a secure random bearer token.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
