package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/MrEthical07/goMFA/codegen"
)

const minHashKeySize = 32

// CodeHasher computes a keyed, user-bound digest of one-time codes. A leaked
// store snapshot is useless for forging codes without the key, and the same
// code hashed for two users yields unrelated digests.
type CodeHasher struct {
	key []byte
}

// NewCodeHasher returns a hasher keyed with key (at least 32 bytes).
func NewCodeHasher(key []byte) (*CodeHasher, error) {
	if len(key) < minHashKeySize {
		return nil, errors.New("providers: code hash key must be at least 32 bytes")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &CodeHasher{key: k}, nil
}

func (h *CodeHasher) sum(userID, purpose, code string) []byte {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(userID))
	mac.Write([]byte{0})
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(codegen.Canonicalize(code)))
	return mac.Sum(nil)
}

// Hash returns the base64url digest of code for userID and purpose.
func (h *CodeHasher) Hash(userID, purpose, code string) string {
	return base64.RawURLEncoding.EncodeToString(h.sum(userID, purpose, code))
}

// Verify reports whether code matches digest in constant time.
func (h *CodeHasher) Verify(userID, purpose, code, digest string) bool {
	want, err := base64.RawURLEncoding.DecodeString(digest)
	if err != nil {
		return false
	}
	return hmac.Equal(h.sum(userID, purpose, code), want)
}
