package password

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail: ok=%v err=%v", ok, err)
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())
	a, _ := hasher.Hash("same-password")
	b, _ := hasher.Hash("same-password")
	if a == b {
		t.Fatal("two hashes of one password must differ")
	}
}

func TestEmptyPasswordRejected(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())
	if _, err := hasher.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	oldHasher, _ := NewHasher(fastConfig())
	hash, err := oldHasher.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	newHasher, _ := NewHasher(stronger)

	if need, err := newHasher.NeedsRehash(hash); err != nil || !need {
		t.Fatalf("expected rehash: need=%v err=%v", need, err)
	}
	if need, err := oldHasher.NeedsRehash(hash); err != nil || need {
		t.Fatalf("expected no rehash: need=%v err=%v", need, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())
	cases := []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5",
	}
	for _, c := range cases {
		if _, err := hasher.Verify("x", c); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%q: expected ErrInvalidHash, got %v", c, err)
		}
	}
	if _, err := hasher.Verify("x", "$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5"); !errors.Is(err, ErrIncompatibleVersion) {
		t.Fatalf("expected ErrIncompatibleVersion, got %v", err)
	}
}

func TestDummyHashIsStableAndNeverMatchesEmpty(t *testing.T) {
	hasher, _ := NewHasher(fastConfig())
	d := hasher.DummyHash()
	if d == "" || d != hasher.DummyHash() {
		t.Fatal("dummy hash must be computed once")
	}
	ok, err := hasher.Verify("", d)
	if err != nil || ok {
		t.Fatalf("dummy hash must not verify an empty password: ok=%v err=%v", ok, err)
	}
}

func TestConfigValidation(t *testing.T) {
	bad := fastConfig()
	bad.Memory = 1024
	if _, err := NewHasher(bad); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	bad = fastConfig()
	bad.SaltLength = 8
	if _, err := NewHasher(bad); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}
