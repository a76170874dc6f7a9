package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const apiKeySecretBytes = 24

// APIKeyMaterial is the raw secret returned to the caller exactly once, at
// creation time, along with the pieces persisted by the registry catalog.
type APIKeyMaterial struct {
	Prefix    string // stored plaintext, shown on every subsequent listing
	Hash      string // SHA-256 hex digest of the secret part (without the prefix), stored instead of the secret
	RawSecret string // "prefix_secret" — shown to the caller once, never stored
}

// GenerateAPIKey mints a new high-entropy API key split into a display
// prefix and a hash of the secret part, so that lookups are an indexed
// prefix match followed by a constant-time hash comparison.
func GenerateAPIKey() (*APIKeyMaterial, error) {
	prefixBytes := make([]byte, 4)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, fmt.Errorf("generate key prefix: %w", err)
	}
	secretBytes := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate key secret: %w", err)
	}

	prefix := "avk_" + hex.EncodeToString(prefixBytes)
	secret := hex.EncodeToString(secretBytes)
	raw := prefix + "_" + secret

	return &APIKeyMaterial{
		Prefix:    prefix,
		Hash:      HashAPIKeySecret(secret),
		RawSecret: raw,
	}, nil
}

// HashAPIKeySecret returns the SHA-256 hex digest of an API key secret.
func HashAPIKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SplitAPIKey parses a raw "prefix_secret" key into its two parts.
func SplitAPIKey(raw string) (prefix, secret string, ok bool) {
	idx := len(raw) - 1
	underscoreCount := 0
	splitAt := -1
	for i, r := range raw {
		if r == '_' {
			underscoreCount++
			if underscoreCount == 2 {
				splitAt = i
				break
			}
		}
	}
	_ = idx
	if splitAt < 0 {
		return "", "", false
	}
	return raw[:splitAt], raw[splitAt+1:], true
}

// VerifyAPIKeySecret performs a constant-time comparison between a candidate
// secret and the stored hash.
func VerifyAPIKeySecret(candidateSecret, storedHash string) bool {
	candidateHash := HashAPIKeySecret(candidateSecret)
	return subtle.ConstantTimeCompare([]byte(candidateHash), []byte(storedHash)) == 1
}
