// Package secretgate is the only place a raw mutation secret and its stored
// hash ever meet. Everything else handles opaque hash strings.
package secretgate

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptySecret is returned when a caller tries to hash a blank secret.
var ErrEmptySecret = errors.New("secret must not be empty")

// MaxSecretLength bounds input before bcrypt truncates silently at 72 bytes.
const MaxSecretLength = 72

type Service struct {
	cost int
}

func NewService() *Service {
	return &Service{cost: bcrypt.DefaultCost}
}

// NewServiceWithCost exists for tests that want the minimum cost factor.
func NewServiceWithCost(cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{cost: cost}
}

// Hash produces a salted one-way hash of secret. An error here must abort the
// surrounding creation or mutation; there is no weaker fallback encoding.
func (s *Service) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if len(secret) > MaxSecretLength {
		return "", fmt.Errorf("secret exceeds %d bytes", MaxSecretLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether secret matches hash. Malformed hashes and mismatches
// both come back false; callers only learn pass or fail.
func (s *Service) Verify(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// dummyHash is a valid bcrypt hash of a random string nobody knows. Comparing
// against it costs the same as a real verification.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// VerifyDummy burns a full bcrypt comparison without a real target, so a
// lookup miss takes as long as a wrong secret.
func (s *Service) VerifyDummy(secret string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
}
