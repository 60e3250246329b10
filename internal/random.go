package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// MinTokenBytes is the smallest amount of entropy accepted for a token value.
	MinTokenBytes = 32
	sessionIDSize = 32
	stateSize     = 16
)

// ByteSource yields cryptographically secure random bytes.
type ByteSource interface {
	SecureBytes(n int) ([]byte, error)
}

// CryptoSource reads from crypto/rand.
type CryptoSource struct{}

func (CryptoSource) SecureBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("random: non-positive length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// NewTokenValue returns n random bytes as unpadded base64url.
func NewTokenValue(src ByteSource, n int) (string, error) {
	if n < MinTokenBytes {
		return "", fmt.Errorf("random: token needs at least %d bytes, got %d", MinTokenBytes, n)
	}
	return encode(src, n)
}

// NewStateValue returns a value for round-trip CSRF checks such as the
// OAuth2 state parameter. It is never stored server-side.
func NewStateValue(src ByteSource) (string, error) {
	return encode(src, stateSize)
}

func NewSessionID(src ByteSource) (string, error) {
	return encode(src, sessionIDSize)
}

// ValidSessionID reports whether id has the shape NewSessionID produces.
func ValidSessionID(id string) bool {
	if len(id) != base64.RawURLEncoding.EncodedLen(sessionIDSize) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil
}

func encode(src ByteSource, n int) (string, error) {
	if src == nil {
		src = CryptoSource{}
	}
	raw, err := src.SecureBytes(n)
	if err != nil {
		return "", err
	}
	if len(raw) != n {
		return "", fmt.Errorf("random: short read %d/%d", len(raw), n)
	}
	// base64url, no padding, cookie and query safe
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
