package protect

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// MinMasterKeySize is the smallest accepted master key.
	MinMasterKeySize = 32

	envelopeVersion1 = 1
	keyInfoPrefix    = "goMFA/protect/v1/"
)

var (
	// ErrMasterKeyTooShort is returned by New for keys under MinMasterKeySize bytes.
	ErrMasterKeyTooShort = errors.New("protect: master key must be at least 32 bytes")
	// ErrEmptyPurpose is returned when no purpose is supplied.
	ErrEmptyPurpose = errors.New("protect: purpose must not be empty")
	// ErrMalformed is returned when a protected value cannot be parsed.
	ErrMalformed = errors.New("protect: malformed protected value")
	// ErrUnprotect is returned when authentication of a protected value fails.
	ErrUnprotect = errors.New("protect: unable to unprotect value")
)

// Protector encrypts short secrets at rest. Each purpose gets its own
// derived key, so a value protected for one purpose never opens under
// another.
type Protector struct {
	master []byte
}

// New returns a Protector bound to masterKey. The key is copied.
func New(masterKey []byte) (*Protector, error) {
	if len(masterKey) < MinMasterKeySize {
		return nil, ErrMasterKeyTooShort
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Protector{master: key}, nil
}

// DeriveKey returns size bytes of key material bound to label. It is used
// for keyed hashing of one-time codes.
func (p *Protector) DeriveKey(label string, size int) ([]byte, error) {
	if label == "" {
		return nil, ErrEmptyPurpose
	}
	out := make([]byte, size)
	r := hkdf.New(sha256.New, p.master, nil, []byte(keyInfoPrefix+label))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Protect seals plaintext for purpose and returns a base64url envelope.
func (p *Protector) Protect(purpose, plaintext string) (string, error) {
	aead, err := p.aead(purpose)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead()+1)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(purpose))
	envelope := make([]byte, 0, len(sealed)+1)
	envelope = append(envelope, envelopeVersion1)
	envelope = append(envelope, sealed...)
	return base64.RawURLEncoding.EncodeToString(envelope), nil
}

// Unprotect opens a value produced by Protect with the same purpose.
func (p *Protector) Unprotect(purpose, protected string) (string, error) {
	aead, err := p.aead(purpose)
	if err != nil {
		return "", err
	}

	raw, err := base64.RawURLEncoding.DecodeString(protected)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < 1+aead.NonceSize()+aead.Overhead() || raw[0] != envelopeVersion1 {
		return "", ErrMalformed
	}

	body := raw[1:]
	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(purpose))
	if err != nil {
		return "", ErrUnprotect
	}
	return string(plain), nil
}

func (p *Protector) aead(purpose string) (cipher.AEAD, error) {
	if purpose == "" {
		return nil, ErrEmptyPurpose
	}
	key, err := p.DeriveKey("aead/"+purpose, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}
