package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

const (
	saltLen       = 16
	hashLen       = 32
	MinIterations = 100_000
	// DefaultIterations is deliberately above the floor so configs that
	// never mention iterations still get headroom.
	DefaultIterations = 210_000
)

// PasswordHash is the stored credential: PBKDF2-SHA-256 over a per-user
// random salt. Iterations travel with the record so the cost can be raised
// without invalidating existing users.
type PasswordHash struct {
	Salt       []byte `json:"salt"`
	Hash       []byte `json:"hash"`
	Iterations int    `json:"iterations"`
}

// IsZero reports whether the record carries no credential at all.
func (p PasswordHash) IsZero() bool {
	return len(p.Hash) == 0
}

// HashPassword derives a credential with a fresh random salt.
func HashPassword(password string, iterations int) (PasswordHash, error) {
	if password == "" {
		return PasswordHash{}, errs.NewConfigError("password must not be empty")
	}
	if iterations < MinIterations {
		iterations = DefaultIterations
	}
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return PasswordHash{}, fmt.Errorf("generate salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(password), salt, iterations, hashLen, sha256.New)
	return PasswordHash{Salt: salt, Hash: hash, Iterations: iterations}, nil
}

// VerifyPassword recomputes the derivation and compares in constant time.
// Verification cost follows the iterations stored with the credential.
func VerifyPassword(password string, stored PasswordHash) bool {
	if stored.IsZero() || len(stored.Salt) == 0 || stored.Iterations <= 0 {
		return false
	}
	computed := pbkdf2.Key([]byte(password), stored.Salt, stored.Iterations, len(stored.Hash), sha256.New)
	return subtle.ConstantTimeCompare(computed, stored.Hash) == 1
}
