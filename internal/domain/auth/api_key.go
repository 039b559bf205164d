// Package auth provides API key hashing and verification for the inbound
// evaluate endpoint.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when an API key matches no configured hash.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// HashKey returns the SHA-256 hex hash of the raw key. Kept for
// YAML-seeded keys where constant-time lookup matters more than slow hashing.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 47 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format.
// The hash includes a random salt.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" for unrecognized formats.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

// isHexString checks if a string contains only valid hexadecimal characters.
func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyKey verifies a raw key against a stored hash.
// Supports Argon2id (PHC format), SHA-256 prefixed, and bare SHA-256 hex.
// Returns (true, nil) on match, (false, nil) on mismatch,
// (false, ErrUnknownHashType) for unrecognized hash formats.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawKey, storedHash)

	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashKey(rawKey)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil

	default:
		return false, ErrUnknownHashType
	}
}

// VerifyAny checks a raw key against a set of stored hashes and returns the
// index of the first match. Returns ErrInvalidKey when nothing matches.
func VerifyAny(rawKey string, storedHashes []string) (int, error) {
	for i, h := range storedHashes {
		match, err := VerifyKey(rawKey, h)
		if err != nil {
			continue
		}
		if match {
			return i, nil
		}
	}
	return -1, ErrInvalidKey
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The underlying argon2 library panics on malformed hashes with invalid
// parameters (e.g. t=0 rounds); convert those panics to errors so VerifyKey
// never panics.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
