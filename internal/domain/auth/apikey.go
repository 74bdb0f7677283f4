package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for any rejected credential. It deliberately
// carries no detail about which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo identifies a storefront client application (web, mobile).
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// KeyChecker authenticates client API keys against a Repository.
type KeyChecker struct {
	keys   Repository
	pepper []byte
}

// NewKeyChecker returns a KeyChecker using the given HMAC pepper.
func NewKeyChecker(keys Repository, pepper []byte) *KeyChecker {
	return &KeyChecker{keys: keys, pepper: pepper}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in the
// api_keys table.
func HashKey(key string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Check returns the key record for a valid key, or ErrUnauthorized.
func (c *KeyChecker) Check(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	mac := hmac.New(sha256.New, c.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := c.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, ErrUnauthorized
	}

	// The repository matched on the hex string; compare raw bytes in
	// constant time in case it returned a row for a different hash.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}
