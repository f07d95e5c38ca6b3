package cryptoadapter

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher is the contract for password hashing/verification. Kept as
// an interface (rather than a concrete struct dependency) so the rest of the
// platform can be exercised against a fake in tests without a real bcrypt
// round-trip.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher with the given cost. A cost <= 0 falls
// back to 12, the same cost DummyHash was generated at.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = 12
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("cryptoadapter: hash password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plaintext matches hash. Internally constant-time
// via bcrypt's own comparison; callers that need to defend against
// user-enumeration timing must still perform a verify on a not-found path
// (see DummyHash and authsvc.Service.Login).
func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// DummyHash is a fixed bcrypt hash used by the auth service to perform a
// dummy verification on the user-not-found path, so wall-clock time does
// not leak whether an identifier exists. Generated once ahead of time so no
// hashing work happens at package init (which would run at a different cost
// than production hashing and be wasted on every process that never logs
// in).
const DummyHash = "$2a$12$CwTycUXWue0Thq9StjUM0uJ8gj0r5l0vy5Wg3v5k8m4S0bTWV6c0m"
