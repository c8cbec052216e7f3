package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/model"
)

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

const (
	qGetSession    = `SELECT telegram_id, session_cipher, session_saved_at, updated_at FROM telegram_sessions WHERE telegram_id=$1`
	qUpsertSession = `INSERT INTO telegram_sessions (telegram_id, session_cipher, session_saved_at, updated_at) VALUES ($1, $2, $3, now()) ON CONFLICT (telegram_id) DO UPDATE SET session_cipher = EXCLUDED.session_cipher, session_saved_at = EXCLUDED.session_saved_at, updated_at = now()`
	qDeleteSession = `DELETE FROM telegram_sessions WHERE telegram_id=$1`
)

// Get selects the stored session; an empty cipher counts as not linked.
func (r *SessionRepo) Get(ctx context.Context, telegramID string) (*model.StoredSession, error) {
	var s model.StoredSession
	err := r.db.Pool.QueryRow(ctx, qGetSession, telegramID).
		Scan(&s.TelegramID, &s.CipherText, &s.SavedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if s.CipherText == "" {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

// Upsert writes the session in a single statement.
func (r *SessionRepo) Upsert(ctx context.Context, telegramID, cipherText string, savedAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx, qUpsertSession, telegramID, cipherText, savedAt)
	return err
}

// Delete removes the session row.
func (r *SessionRepo) Delete(ctx context.Context, telegramID string) error {
	tag, err := r.db.Pool.Exec(ctx, qDeleteSession, telegramID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
