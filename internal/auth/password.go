package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordSaltLength = 16
	passwordKeyLength  = 32

	// DefaultPasswordIterations is the PBKDF2 work factor for new hashes.
	DefaultPasswordIterations = 120000
)

// ErrPasswordMismatch is returned when a candidate password does not match.
var ErrPasswordMismatch = errors.New("password mismatch")

// HashPassword derives a PBKDF2-SHA256 key encoded as
// pbkdf2$sha256$<iterations>$<salt>$<key>.
func HashPassword(password string) (string, error) {
	return HashPasswordWithIterations(password, DefaultPasswordIterations)
}

// HashPasswordWithIterations is HashPassword with an explicit work factor.
func HashPasswordWithIterations(password string, iterations int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	if iterations <= 0 {
		iterations = DefaultPasswordIterations
	}
	salt := make([]byte, passwordSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, passwordKeyLength, sha256.New)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s",
		iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(derived)), nil
}

// VerifyPassword compares candidate against an encoded hash in constant time.
func VerifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 || parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash format")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
