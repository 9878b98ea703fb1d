package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrMalformedKey is returned when a presented key is not "<user>.<secret>".
var ErrMalformedKey = errors.New("malformed api key")

// GenerateKey creates a new key for userID. The returned key is shown to the
// user once; only hash is stored.
func GenerateKey(userID string) (key, hash string, err error) {
	if userID == "" || strings.Contains(userID, ".") {
		return "", "", fmt.Errorf("invalid user id %q", userID)
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)

	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash secret: %w", err)
	}

	return userID + "." + secret, string(h), nil
}

// SplitKey separates a presented key into its user id and secret.
func SplitKey(key string) (userID, secret string, err error) {
	i := strings.IndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", ErrMalformedKey
	}
	return key[:i], key[i+1:], nil
}

// VerifySecret reports whether secret matches the stored bcrypt hash.
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
