package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	claims := NewClaims("owner-1", "Avery", time.Hour, time.Now())
	issued, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	parsed, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed.Sub != "owner-1" || parsed.Name != "Avery" || parsed.JTI != claims.JTI {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
	if !strings.HasPrefix(parsed.JTI, "jti_") {
		t.Fatalf("expected jti_ prefix, got %q", parsed.JTI)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("owner-1", "Avery", -time.Minute, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims("owner-1", "Avery", time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "abc", "a.b.c", "!!!.sig"} {
		if _, err := ParseToken([]byte("secret"), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseToken(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseTokenRequiresSubject(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{JTI: "jti_1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
