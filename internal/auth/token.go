// Package auth issues and verifies the bearer tokens that carry a player's
// identity into the match server.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cory-johannsen/duel/internal/config"
)

// Identity is the authenticated user attached to a connection. It is used for
// display and ownership checks only.
type Identity struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar"`
}

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload. The subject holds Identity.ID.
type Claims struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer from the auth configuration.
//
// Precondition: cfg.JWTSecret must be non-empty; cfg.TokenTTL must be positive.
func NewTokenIssuer(cfg config.AuthConfig) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
}

// Issue returns a signed token for id that expires after the configured TTL.
//
// Precondition: id.ID and id.Username must be non-empty.
func (i *TokenIssuer) Issue(id Identity) (string, error) {
	if id.ID == "" || id.Username == "" {
		return "", fmt.Errorf("issuing token: identity id and username are required")
	}
	now := i.now()
	claims := Claims{
		Username:  id.Username,
		AvatarURL: id.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the identity it carries.
//
// Postcondition: Returns the Identity, or an error wrapping ErrInvalidToken
// for a bad signature, wrong algorithm, expiry, or missing subject/username.
func (i *TokenIssuer) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Username == "" {
		return Identity{}, fmt.Errorf("%w: missing subject or username", ErrInvalidToken)
	}
	return Identity{
		ID:        claims.Subject,
		Username:  claims.Username,
		AvatarURL: claims.AvatarURL,
	}, nil
}
