// Package common provides random identifier generation shared by the broker.
package common

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	LETTERS = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	DIGITS  = "0123456789"
	CHARS   = LETTERS + DIGITS

	// SESSION_ID_LEN gives 62^24, about 143 bits of entropy.
	SESSION_ID_LEN = 24
)

// secureRandomInt returns a uniformly distributed value in [0, max) from
// crypto/rand.
func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("max must be positive, got %d", max)
	}
	if max > math.MaxInt32 {
		return 0, fmt.Errorf("max too large: %d", max)
	}

	// reject the tail of the uint64 range to avoid modulo bias
	limit := (math.MaxUint64 / uint64(max)) * uint64(max)

	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		n := binary.BigEndian.Uint64(buf[:])
		if n < limit {
			return int(n % uint64(max)), nil
		}
	}
}

// RandomString returns a random string of length characters drawn from CHARS.
func RandomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive, got %d", length)
	}
	result := make([]byte, length)
	for i := range result {
		idx, err := secureRandomInt(len(CHARS))
		if err != nil {
			return "", fmt.Errorf("failed to generate character at position %d: %w", i, err)
		}
		result[i] = CHARS[idx]
	}
	return string(result), nil
}

// NewSessionId returns a fresh SESSION_ID_LEN character session id.
func NewSessionId() (string, error) {
	return RandomString(SESSION_ID_LEN)
}
