// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// OperationStatus is the lifecycle state of a linking handshake.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusCompleted OperationStatus = "completed"
	StatusErrored   OperationStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s OperationStatus) Terminal() bool { return s == StatusCompleted || s == StatusErrored }

// OperationView is a read-only snapshot of an in-flight or finished handshake.
type OperationView struct {
	ID         uuid.UUID
	Identity   string // telegram id of the owner
	Status     OperationStatus
	ErrorClass string // set only when Status == StatusErrored
	CreatedAt  time.Time
}

// StoredSession is the encrypted chat-platform session persisted per user.
type StoredSession struct {
	TelegramID string
	CipherText string // produced by crypto.SessionCipher, never plaintext
	SavedAt    time.Time
	UpdatedAt  time.Time
}

// SessionStatus reports whether a user has a linked session.
type SessionStatus struct {
	Linked  bool
	SavedAt time.Time // zero when not linked
}
