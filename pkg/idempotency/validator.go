package idempotency

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
)

// Key format errors
var (
	ErrKeyRequired = errors.New("idempotency key is required for this operation")
	ErrKeyInvalid  = errors.New("idempotency key may only contain letters, digits, '-' and '_'")
	ErrKeyTooLong  = errors.New("idempotency key is too long")
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateKey checks a key against DefaultMaxKeyLength
func ValidateKey(key string) error {
	return ValidateKeyWithMaxLength(key, DefaultMaxKeyLength)
}

// ValidateKeyWithMaxLength validates an idempotency key with a custom max length
func ValidateKeyWithMaxLength(key string, maxLength int) error {
	if key == "" {
		return ErrKeyRequired
	}

	if len(key) > maxLength {
		return ErrKeyTooLong
	}

	if !keyPattern.MatchString(key) {
		return ErrKeyInvalid
	}

	return nil
}

// ComputeFingerprint computes a SHA256 fingerprint over the given request parts.
// Parts are length-prefixed so that ("ab","c") and ("a","bc") differ.
func ComputeFingerprint(parts ...[]byte) string {
	hash := sha256.New()
	for _, p := range parts {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		hash.Write(size[:])
		hash.Write(p)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// NormalizeKey trims surrounding whitespace
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}
