package auth

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKeyRepo struct {
	byHash map[string]*APIKeyInfo
}

func (m *mockKeyRepo) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return info, nil
}

func signToken(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestKeyChecker_Valid(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey("web-key", pepper)
	repo := &mockKeyRepo{byHash: map[string]*APIKeyInfo{
		hash: {ID: "web", KeyHash: hash, Name: "Web storefront"},
	}}

	info, err := NewKeyChecker(repo, pepper).Check(context.Background(), "web-key")
	require.NoError(t, err)
	assert.Equal(t, "web", info.ID)
}

func TestKeyChecker_Rejects(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey("web-key", pepper)
	repo := &mockKeyRepo{byHash: map[string]*APIKeyInfo{
		hash: {ID: "web", KeyHash: hash},
	}}
	c := NewKeyChecker(repo, pepper)

	for _, key := range []string{"", "other-key"} {
		_, err := c.Check(context.Background(), key)
		assert.ErrorIs(t, err, ErrUnauthorized, "key %q", key)
	}
}

func TestKeyChecker_StoredHashMismatch(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey("web-key", pepper)
	repo := &mockKeyRepo{byHash: map[string]*APIKeyInfo{
		hash: {ID: "web", KeyHash: HashKey("something-else", pepper)},
	}}

	_, err := NewKeyChecker(repo, pepper).Check(context.Background(), "web-key")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenVerifier_Valid(t *testing.T) {
	secret := []byte("secret")
	token := signToken(t, secret, jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	userID, err := NewTokenVerifier(secret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", userID)
}

func TestTokenVerifier_Expired(t *testing.T) {
	secret := []byte("secret")
	token := signToken(t, secret, jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	_, err := NewTokenVerifier(secret).Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenVerifier_WrongSecret(t *testing.T) {
	token := signToken(t, []byte("other"), jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	_, err := NewTokenVerifier([]byte("secret")).Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenVerifier_MissingSubject(t *testing.T) {
	secret := []byte("secret")
	token := signToken(t, secret, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	_, err := NewTokenVerifier(secret).Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
