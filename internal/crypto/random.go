// Package crypto implements at-rest encryption of chat-platform sessions.
package crypto

import "crypto/rand"

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
