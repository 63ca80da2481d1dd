package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	challengeIDSize = 16
	deviceTokenSize = 32
)

var errShortRandom = errors.New("short random read")

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	read, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	if read != n {
		return nil, errShortRandom
	}
	return b, nil
}

// NewChallengeID returns an opaque, URL-safe MFA challenge reference.
func NewChallengeID() (string, error) {
	raw, err := randomBytes(challengeIDSize)
	if err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewDeviceToken returns a remember-device token. Only its hash is stored.
func NewDeviceToken() (string, error) {
	raw, err := randomBytes(deviceTokenSize)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashDeviceToken returns the hex SHA-256 of token, used as the stored
// field name for remembered devices.
func HashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
