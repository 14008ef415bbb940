// Package hasher wraps bcrypt as the one-way password hashing primitive.
package hasher

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const DefaultCost = 10

var (
	ErrInvalidCost     = errors.New("invalid bcrypt cost")
	ErrPasswordTooLong = errors.New("password is longer than 72 bytes")
)

type Bcrypt struct{}

func NewBcrypt() Bcrypt {
	return Bcrypt{}
}

// ValidateCost reports whether bcrypt accepts cost.
func ValidateCost(cost int) error {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return nil
}

// Hash never includes the plaintext in the returned error.
func (Bcrypt) Hash(plain string, cost int) (string, error) {
	if err := ValidateCost(cost); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("hasher.Hash: %w", err)
	}
	return string(hash), nil
}

// Compare returns false for a mismatch as well as for a malformed hash.
func (Bcrypt) Compare(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
