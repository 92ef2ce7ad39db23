// Package credential hashes passwords and mints opaque bearer tokens.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	SaltLength  = 16
	TokenLength = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewSalt returns a random salt of SaltLength characters.
func NewSalt() (string, error) {
	return randomString(SaltLength)
}

// NewToken returns a random bearer token of TokenLength characters.
func NewToken() (string, error) {
	return randomString(TokenLength)
}

// Hash derives the hex-encoded argon2id digest of password with salt.
func Hash(password, salt string) string {
	key := argon2.IDKey([]byte(password), []byte(salt), argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(key)
}

// Verify reports whether password matches the stored digest and salt.
func Verify(password, salt, digest string) bool {
	got := Hash(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	// 256 is not a multiple of len(alphabet); reject the biased tail.
	const limit = 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	for len(out) < n {
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
		if len(out) < n {
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("failed to read random bytes: %w", err)
			}
		}
	}
	return string(out), nil
}
