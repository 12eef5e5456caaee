package auth

import (
	"errors"
	"testing"
	"time"
)

var secret = []byte("test-signing-secret")

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(secret, "admin", "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("expected subject admin, got %q", claims.Subject)
	}
	if claims.JTI != "jti-1" {
		t.Errorf("expected jti-1, got %q", claims.JTI)
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := IssueToken(secret, "admin", "jti-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	token, err := IssueToken(secret, "admin", "jti-1", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenGarbage(t *testing.T) {
	if _, err := ParseToken(secret, "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("expected identical digests for identical input")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("expected different digests for different input")
	}
	if HashToken("abc") == "abc" {
		t.Error("digest must not equal the raw token")
	}
}
