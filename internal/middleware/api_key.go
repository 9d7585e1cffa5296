package middleware

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHashCost = bcrypt.DefaultCost

// HashAPIKey returns a salted bcrypt hash for an API key.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), apiKeyHashCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyMatchesHash compares an API key against a stored bcrypt hash.
func APIKeyMatchesHash(expectedHash, apiKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(apiKey)) == nil
}
