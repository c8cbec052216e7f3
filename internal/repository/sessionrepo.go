package repository

import (
	"context"
	"time"

	"github.com/and161185/tglink/internal/model"
)

// SessionRepository stores encrypted chat-platform sessions addressed by telegram id.
type SessionRepository interface {
	// Get loads the stored session; errs.ErrNotFound if none is linked.
	Get(ctx context.Context, telegramID string) (*model.StoredSession, error)
	// Upsert writes the cipher text and save time, creating the row if needed.
	Upsert(ctx context.Context, telegramID, cipherText string, savedAt time.Time) error
	// Delete removes the stored session; errs.ErrNotFound if there was none.
	Delete(ctx context.Context, telegramID string) error
}
