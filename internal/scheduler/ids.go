package scheduler

import (
	"crypto/rand"
	"fmt"
)

const (
	idAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	DefaultIDLength = 6
)

// NewID returns a random alphanumeric id of length n.
func NewID(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("id length must be positive, got %d", n)
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	// 248 is the largest multiple of 62 that fits in a byte; rejecting
	// anything above it keeps every character equally likely.
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
