// Package auth issues and checks Cloudtype capability tokens.
//
// TOKEN MODEL:
// A token is an HS256 JWT carrying a snapshot of the identity taken at
// login: id, handle, admin flag, verified flag. The snapshot is never
// refreshed. Promoting or demoting an identity does not change tokens that
// were already issued; the holder sees the new role only after logging in
// again. The guard in middleware.go can re-check current account state
// per request to close the gap for bans and admin revocation.
//
// By default tokens carry no "exp" claim and stay valid until the signing
// secret changes. A TTL can be configured to bound their lifetime.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/cloudtype/internal/apperror"
	"github.com/sakif/cloudtype/internal/model"
)

const issuer = "cloudtype"

// Claims is the token payload.
type Claims struct {
	UserID   string `json:"id"`
	Handle   string `json:"username"`
	IsAdmin  bool   `json:"admin"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

// Age is how long ago the snapshot was taken. Role changes made within
// this window are not reflected in the claims.
func (c *Claims) Age(now time.Time) time.Duration {
	if c.IssuedAt == nil {
		return 0
	}
	return now.Sub(c.IssuedAt.Time)
}

// TokenService signs and validates tokens with a shared HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration // 0 = no expiry
	now    func() time.Time
}

// NewTokenService rejects secrets shorter than 16 characters.
// ttl <= 0 issues non-expiring tokens.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for user.
func (s *TokenService) Issue(user *model.User) (string, error) {
	now := s.now()

	c := Claims{
		UserID:   user.ID,
		Handle:   user.Handle,
		IsAdmin:  user.IsAdmin,
		Verified: user.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.ID,
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenStr and returns its claims.
//
// Every failure (bad signature, other algorithm, wrong issuer, malformed,
// expired) is reported as apperror.ErrInvalidToken.
//
// ALGORITHM CONFUSION:
// WithValidMethods pins HS256, so a token signed with "none" or an
// asymmetric algorithm is rejected before the key is consulted.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.InvalidToken("token expired")
		}
		return nil, apperror.InvalidToken("malformed or unsigned token")
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperror.InvalidToken("unreadable claims")
	}
	if c.UserID == "" || c.Subject != c.UserID {
		return nil, apperror.InvalidToken("token has no subject")
	}
	return c, nil
}
