// Package handshake coordinates the two-request account-linking flow: a start
// request begins a platform login in the background, a later request delivers
// the one-time code into the paused login and persists the encrypted session.
package handshake

import (
	"context"
	"time"
)

// PasswordFunc supplies the two-step verification password when asked.
type PasswordFunc func(ctx context.Context) (string, error)

// CodeFunc supplies a one-time login code. It may be called more than once per login.
type CodeFunc func(ctx context.Context) (string, error)

// Client is a live connection to the chat platform, exclusively owned by one Operation.
type Client interface {
	// Login runs the platform login flow until it settles. Errors should be
	// *errs.LoginError where the platform classified them.
	Login(ctx context.Context, phone string, password PasswordFunc, code CodeFunc) error
	// Session serializes the client's session as it stands now, even mid-login.
	Session(ctx context.Context) (string, error)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer creates fresh, unauthenticated platform clients.
type Dialer interface {
	Dial(ctx context.Context) (Client, error)
}

// Encrypter turns a serialized session into at-rest cipher text.
type Encrypter interface {
	Encrypt(plain []byte) (string, error)
}

// SessionWriter persists the encrypted session for a telegram id.
type SessionWriter interface {
	Upsert(ctx context.Context, telegramID, cipherText string, savedAt time.Time) error
}
