package utils

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a random unique ID
func GenerateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return generateFallbackID()
	}
	return hex.EncodeToString(b)
}

// GenerateShortID generates a shorter random ID (8 chars)
func GenerateShortID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return generateFallbackID()[:8]
	}
	return hex.EncodeToString(b)
}

// NewRequestID returns "<subdomain>-<uuid>". The subdomain prefix keeps ids
// readable in logs; the v4 suffix makes them unique across all sessions.
func NewRequestID(subdomain string) string {
	return subdomain + "-" + uuid.NewString()
}

func generateFallbackID() string {
	return hex.EncodeToString([]byte(time.Now().String()))
}
