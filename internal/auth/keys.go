// Package auth guards the pushbox MCP endpoint with bcrypt-hashed API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix marks pushbox API keys so they are recognisable in logs
// and secret scanners.
const APIKeyPrefix = "pb_"

const apiKeyBytes = 32

// Key is a configured API key: the user it authenticates and the bcrypt
// hash of the secret.
type Key struct {
	UserID string
	Hash   string
}

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating API key: %w", err)
	}

	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// HashKey bcrypt-hashes key for storage in MCP_API_KEYS.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing API key: %w", err)
	}

	return string(hash), nil
}

// IsBcryptHash reports whether s parses as a bcrypt hash.
func IsBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// Verifier checks presented keys against the configured hashes. A bcrypt
// comparison costs tens of milliseconds, so keys that verified once are
// remembered by their SHA-256 digest.
type Verifier struct {
	keys []Key

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// NewVerifier returns a Verifier for keys.
func NewVerifier(keys []Key) *Verifier {
	return &Verifier{
		keys:     keys,
		verified: make(map[[sha256.Size]byte]string),
	}
}

// Verify returns the user ID that presented matches, or "" and false.
func (v *Verifier) Verify(presented string) (string, bool) {
	if presented == "" {
		return "", false
	}

	digest := sha256.Sum256([]byte(presented))

	v.mu.RLock()
	userID, ok := v.verified[digest]
	v.mu.RUnlock()

	if ok {
		return userID, true
	}

	for _, k := range v.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(presented)) == nil {
			v.mu.Lock()
			v.verified[digest] = k.UserID
			v.mu.Unlock()

			return k.UserID, true
		}
	}

	return "", false
}
