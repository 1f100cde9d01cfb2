package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/duel/internal/config"
)

func newIssuer(now time.Time) *TokenIssuer {
	i := NewTokenIssuer(config.AuthConfig{JWTSecret: "test-secret-0123456789", TokenTTL: time.Hour})
	i.now = func() time.Time { return now }
	return i
}

func TestIssueAndVerify(t *testing.T) {
	i := newIssuer(time.Now())
	want := Identity{ID: "42", Username: "alice", AvatarURL: "https://cdn/a.png"}

	tok, err := i.Issue(want)
	require.NoError(t, err)

	got, err := i.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIssueRequiresIdentity(t *testing.T) {
	i := newIssuer(time.Now())
	_, err := i.Issue(Identity{Username: "alice"})
	assert.Error(t, err)
	_, err = i.Issue(Identity{ID: "1"})
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	tok, err := newIssuer(issued).Issue(Identity{ID: "1", Username: "bob"})
	require.NoError(t, err)

	_, err = newIssuer(time.Now()).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, err := newIssuer(time.Now()).Issue(Identity{ID: "1", Username: "bob"})
	require.NoError(t, err)

	other := NewTokenIssuer(config.AuthConfig{JWTSecret: "a-different-secret-value", TokenTTL: time.Hour})
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{
		Username: "mallory",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newIssuer(time.Now()).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMissingExpiry(t *testing.T) {
	claims := Claims{Username: "eve", RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-0123456789"))
	require.NoError(t, err)

	_, err = newIssuer(time.Now()).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := newIssuer(time.Now()).Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// Property: any issued identity verifies back to itself before expiry.
func TestPropertyIssueVerifyRoundTrip(t *testing.T) {
	i := newIssuer(time.Now())
	rapid.Check(t, func(t *rapid.T) {
		id := Identity{
			ID:        rapid.StringMatching(`[0-9]{1,12}`).Draw(t, "id"),
			Username:  rapid.StringMatching(`[a-zA-Z0-9_]{1,24}`).Draw(t, "username"),
			AvatarURL: rapid.StringMatching(`(https://[a-z]{3,8}\.png)?`).Draw(t, "avatar"),
		}
		tok, err := i.Issue(id)
		if err != nil {
			t.Fatalf("Issue(%+v): %v", id, err)
		}
		got, err := i.Verify(tok)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if got != id {
			t.Fatalf("got %+v, want %+v", got, id)
		}
	})
}
