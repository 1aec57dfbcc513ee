package password

import (
	"errors"
	"strings"
	"testing"
)

// cheap keeps hashing fast in tests.
func cheap() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()
	cfg := cheap()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h)
	}

	ok, err := cfg.Verify(h, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}

	ok, err = cfg.Verify(h, "wrong horse battery")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()
	cfg := cheap()

	for _, enc := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5",
	} {
		ok, err := cfg.Verify(enc, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("%q: expected ErrInvalidHash, got ok=%v err=%v", enc, ok, err)
		}
	}
}

func TestVerify_RejectsOversizedCost(t *testing.T) {
	t.Parallel()
	strong := cheap()
	strong.Params.MemoryKiB = 64 * 1024

	h, err := strong.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	// 64 MiB exceeds twice the 8 MiB limit.
	if _, err := cheap().Verify(h, "correct horse battery"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	t.Parallel()
	cfg := cheap()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if cfg.NeedsRehash(h) {
		t.Fatalf("fresh hash should not need rehash")
	}

	bumped := cfg
	bumped.Params.Iterations = 2
	if !bumped.NeedsRehash(h) {
		t.Fatalf("changed params should need rehash")
	}
	if !cfg.NeedsRehash("garbage") {
		t.Fatalf("malformed hash should need rehash")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := cheap()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16

	cases := []struct {
		pw   string
		want error
	}{
		{"short", ErrPasswordTooShort},
		{"this password is definitely too long", ErrPasswordTooLong},
		{"password", ErrWeakPassword},
		{"Password123", ErrWeakPassword},
		{"zzzzzzzz", ErrWeakPassword},
		{"12345670", ErrWeakPassword},
		{"tangerine-7", nil},
		{"ñandú-río", nil},
	}
	for _, tc := range cases {
		if err := cfg.Validate(tc.pw); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) = %v, want %v", tc.pw, err, tc.want)
		}
	}

	cfg.Policy.RejectVeryWeak = false
	if err := cfg.Validate("password"); err != nil {
		t.Fatalf("weak check disabled, got %v", err)
	}
}

func TestIsPolicyViolation(t *testing.T) {
	t.Parallel()
	if !IsPolicyViolation(ErrWeakPassword) || IsPolicyViolation(ErrInvalidHash) {
		t.Fatalf("unexpected classification")
	}
}
