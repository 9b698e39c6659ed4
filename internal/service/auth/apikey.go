package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyVerifier checks "name:secret" keys against bcrypt hashes loaded from
// configuration entries of the form "name:hash".
type APIKeyVerifier struct {
	hashes map[string][]byte
}

// NewAPIKeyVerifier parses configured key entries. An entry without a name or
// hash is rejected.
func NewAPIKeyVerifier(entries []string) (*APIKeyVerifier, error) {
	v := &APIKeyVerifier{hashes: make(map[string][]byte, len(entries))}
	for _, entry := range entries {
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("api key entry must have the form name:hash")
		}
		if _, dup := v.hashes[name]; dup {
			return nil, fmt.Errorf("duplicate api key name %q", name)
		}
		v.hashes[name] = []byte(hash)
	}
	return v, nil
}

// Len reports how many keys are configured.
func (v *APIKeyVerifier) Len() int {
	return len(v.hashes)
}

// Verify checks a presented "name:secret" key and returns the key name.
func (v *APIKeyVerifier) Verify(key string) (string, error) {
	name, secret, ok := strings.Cut(key, ":")
	if !ok || secret == "" {
		return "", ErrInvalidAPIKey
	}
	hash, found := v.hashes[name]
	if !found {
		return "", ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return "", ErrInvalidAPIKey
	}
	return name, nil
}

// HashAPIKey returns the bcrypt hash stored in configuration for secret.
func HashAPIKey(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("api key secret must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}
