package secretgate

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyRoundTrip(t *testing.T) {
	gate := NewServiceWithCost(bcrypt.MinCost)

	hash, err := gate.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "correct horse battery" {
		t.Fatal("hash must not equal the input secret")
	}
	if !gate.Verify("correct horse battery", hash) {
		t.Error("expected matching secret to verify")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	gate := NewServiceWithCost(bcrypt.MinCost)

	hash, err := gate.Hash("first secret")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if gate.Verify("second secret", hash) {
		t.Error("expected non-matching secret to fail")
	}
}

func TestHashIsSalted(t *testing.T) {
	gate := NewServiceWithCost(bcrypt.MinCost)

	first, err := gate.Hash("same secret")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := gate.Hash("same secret")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Error("two hashes of the same secret should differ by salt")
	}
	if !gate.Verify("same secret", first) || !gate.Verify("same secret", second) {
		t.Error("both salted hashes should verify against the original secret")
	}
}

func TestHashRejectsEmptySecret(t *testing.T) {
	gate := NewServiceWithCost(bcrypt.MinCost)

	if _, err := gate.Hash(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestHashRejectsOversizedSecret(t *testing.T) {
	gate := NewServiceWithCost(bcrypt.MinCost)

	if _, err := gate.Hash(strings.Repeat("x", MaxSecretLength+1)); err == nil {
		t.Error("expected error for secret past the bcrypt limit")
	}
}

func TestVerifyRejectsGarbageHash(t *testing.T) {
	gate := NewServiceWithCost(bcrypt.MinCost)

	if gate.Verify("anything", "not-a-bcrypt-hash") {
		t.Error("expected malformed hash to fail verification")
	}
	if gate.Verify("anything", "") {
		t.Error("expected empty hash to fail verification")
	}
}
