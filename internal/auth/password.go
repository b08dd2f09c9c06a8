package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
//
// Hashes embed their own cost and salt:
//
//	$2a$10$<22-char salt><31-char hash>
//
// so raising the cost later keeps old hashes verifiable.
const DefaultCost = 10

// PasswordService hashes and verifies secrets with bcrypt.
// The cost is injectable so tests can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

// NewPasswordService returns a service at cost, or DefaultCost when cost is
// outside bcrypt's accepted range.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &PasswordService{cost: cost}
}

// Hash rejects secrets over 72 bytes, which bcrypt would otherwise
// silently truncate.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// ErrPasswordMismatch is returned by Verify for a wrong secret.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// Verify returns nil when plaintext matches hash. An empty hash (an
// identity created through GitHub sign-in) never matches.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		return ErrPasswordMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
