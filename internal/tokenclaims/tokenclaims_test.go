package tokenclaims

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return s
}

func TestExpiresAt(t *testing.T) {
	want := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signedToken(t, jwt.MapClaims{"sub": "u-1", "exp": want.Unix()})

	got, err := ExpiresAt(tok)
	if err != nil {
		t.Fatalf("ExpiresAt failed: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", got, want)
	}
}

func TestExpiresAtIgnoresSignature(t *testing.T) {
	// Same payload signed with a key the client does not know; the decode
	// must still succeed.
	want := time.Now().Add(time.Minute).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": want.Unix()})
	s, err := tok.SignedString([]byte("some-other-secret"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	got, err := ExpiresAt(s)
	if err != nil {
		t.Fatalf("ExpiresAt failed: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", got, want)
	}
}

func TestExpiresAtPastClaim(t *testing.T) {
	// An already-expired token must still decode; expiry policy is the
	// caller's concern.
	want := time.Now().Add(-time.Hour).Truncate(time.Second)
	tok := signedToken(t, jwt.MapClaims{"exp": want.Unix()})

	got, err := ExpiresAt(tok)
	if err != nil {
		t.Fatalf("ExpiresAt failed: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", got, want)
	}
}

func TestExpiresAtMissingClaim(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "u-1"})

	if _, err := ExpiresAt(tok); !errors.Is(err, ErrNoExpiry) {
		t.Fatalf("ExpiresAt = %v, want ErrNoExpiry", err)
	}
}

func TestExpiresAtGarbage(t *testing.T) {
	for _, tok := range []string{"", "opaque-token", "a.b", "a.b.c"} {
		if _, err := ExpiresAt(tok); err == nil {
			t.Fatalf("ExpiresAt(%q) succeeded, want error", tok)
		}
	}
}
