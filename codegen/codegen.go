package codegen

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Alphabet is the character set used for human-entered codes. Vowels and the
// easily misread glyphs 0/O and 1/I/L are left out.
const Alphabet = "23456789BCDFGHJKMNPQRTVWXY"

const (
	// FormattedGroupLength is the size of each group in a formatted code.
	FormattedGroupLength = 5
	// FormattedCodeLength is the number of random characters in a formatted code.
	FormattedCodeLength = FormattedGroupLength * 2
)

var (
	// ErrInvalidLength is returned when a non-positive length is requested.
	ErrInvalidLength = errors.New("codegen: length must be positive")
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// GenerateRandomCode returns length characters drawn uniformly from Alphabet
// using crypto/rand.
func GenerateRandomCode(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}

	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateFormattedCode returns a code in the XXXXX-XXXXX shape used for
// email and recovery codes.
func GenerateFormattedCode() (string, error) {
	raw, err := GenerateRandomCode(FormattedCodeLength)
	if err != nil {
		return "", err
	}
	return raw[:FormattedGroupLength] + "-" + raw[FormattedGroupLength:], nil
}

// GenerateSecretBytes returns n cryptographically random bytes.
func GenerateSecretBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidLength
	}
	secret := make([]byte, n)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// Canonicalize normalizes user input so that "abcde-fghij", "ABCDE FGHIJ"
// and "ABCDEFGHIJ" compare equal.
func Canonicalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
