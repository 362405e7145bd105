// Package token issues and redeems the resumption credential a tunnel
// client presents to reclaim its previous subdomain.
//
// A token is base64url(nonce || XChaCha20-Poly1305(subdomain ";" issuedAtMillis)).
// Nothing is stored server side: a token is valid when it decrypts and its
// plaintext has exactly two fields.
package token

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	separator = ";"
	keyInfo   = "myhook resumption token v1"
)

var (
	// ErrInvalidToken is returned when a token cannot be decrypted or parsed
	ErrInvalidToken = errors.New("invalid resumption token")

	// ErrEmptySecret is returned when the codec is built without a secret
	ErrEmptySecret = errors.New("token secret is empty")
)

// Codec encrypts and decrypts resumption tokens with a static secret
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the cipher key from secret. The same secret always yields
// the same key, so tokens survive broker restarts.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// RandomSecret returns a fresh secret for deployments that configure none.
// Tokens issued under it die with the process.
func RandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue returns an opaque token binding subdomain to the issuance time
func (c *Codec) Issue(subdomain string, now time.Time) (string, error) {
	plaintext := subdomain + separator + strconv.FormatInt(now.UnixMilli(), 10)

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate token nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Redeem decrypts a token and returns the subdomain and issuance time it holds.
// Any failure is reported as ErrInvalidToken.
func (c *Codec) Redeem(token string) (string, time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", time.Time{}, fmt.Errorf("%w: too short", ErrInvalidToken)
	}

	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	fields := strings.Split(string(plaintext), separator)
	if len(fields) != 2 || fields[0] == "" {
		return "", time.Time{}, fmt.Errorf("%w: malformed payload", ErrInvalidToken)
	}

	millis, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: bad timestamp", ErrInvalidToken)
	}

	return fields[0], time.UnixMilli(millis), nil
}
