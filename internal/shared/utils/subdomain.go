package utils

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

const (
	// SubdomainChars defines the allowed characters for subdomain generation
	SubdomainChars = "abcdefghijklmnopqrstuvwxyz0123456789"
	// DefaultSubdomainLength is the default length of generated subdomains
	DefaultSubdomainLength = 8
)

var subdomainRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]$`)

// reserved labels are never handed out: they address the root site or
// infrastructure hosts under the main domain.
var reserved = map[string]bool{
	"www":     true,
	"api":     true,
	"admin":   true,
	"mail":    true,
	"ftp":     true,
	"status":  true,
	"health":  true,
	"metrics": true,
}

// GenerateSubdomain generates a random lowercase alphanumeric subdomain
func GenerateSubdomain(length int) string {
	if length <= 0 {
		length = DefaultSubdomainLength
	}

	result := make([]byte, length)
	charsLen := big.NewInt(int64(len(SubdomainChars)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, charsLen)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			result[i] = SubdomainChars[i%len(SubdomainChars)]
			continue
		}
		result[i] = SubdomainChars[num.Int64()]
	}

	return string(result)
}

// ValidateSubdomain checks if a subdomain is a valid 3-63 char DNS label
func ValidateSubdomain(subdomain string) bool {
	if len(subdomain) < 3 || len(subdomain) > 63 {
		return false
	}
	return subdomainRegex.MatchString(subdomain)
}

// IsReserved checks if a subdomain is reserved
func IsReserved(subdomain string) bool {
	return reserved[strings.ToLower(subdomain)]
}
