package crypto

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const (
	SlugBytes = 5  // 8 characters
	CodeBytes = 15 // 24 characters
)

// RandomToken returns n random bytes as lower-case unpadded base32.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToLower(encoding.EncodeToString(b)), nil
}

// NewSlug returns a short public identifier for an invite or workspace.
func NewSlug() (string, error) {
	return RandomToken(SlugBytes)
}

// NewCode returns a secret invite code.
func NewCode() (string, error) {
	return RandomToken(CodeBytes)
}
