package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates buyer access tokens issued by the auth platform.
// Tokens are HS256 JWTs whose subject is the buyer id.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewTokenVerifier returns a TokenVerifier for the shared signing secret.
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret, now: time.Now}
}

// Verify returns the buyer id carried by token.
func (v *TokenVerifier) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", errors.Wrap(ErrUnauthorized, err.Error())
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}
