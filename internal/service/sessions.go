// Package service contains application services over stored platform sessions.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/model"
	"github.com/and161185/tglink/internal/repository"
)

// SessionService defines operations over a user's linked session.
type SessionService interface {
	// Status reports whether the user has a linked session.
	Status(ctx context.Context, telegramID string) (model.SessionStatus, error)
	// Reveal returns the decrypted session string.
	Reveal(ctx context.Context, telegramID string) (string, error)
	// Revoke forgets the stored session.
	Revoke(ctx context.Context, telegramID string) error
	// Probe asks the platform whether the stored session is still signed in
	// and forgets it when it is not.
	Probe(ctx context.Context, telegramID string) (bool, error)
}

// Decrypter opens stored cipher text.
type Decrypter interface {
	Decrypt(cipherText string) ([]byte, error)
}

// Prober checks a raw session against the platform.
type Prober interface {
	Authorized(ctx context.Context, sessionData string) (bool, error)
}

type SessionServiceImpl struct {
	sessions repository.SessionRepository
	cipher   Decrypter
	prober   Prober
	log      *zap.Logger
}

// NewSessionService constructs SessionService.
func NewSessionService(sessions repository.SessionRepository, cipher Decrypter, prober Prober, log *zap.Logger) *SessionServiceImpl {
	return &SessionServiceImpl{sessions: sessions, cipher: cipher, prober: prober, log: log.Named("sessions")}
}

// Status never returns ErrNotFound; an unlinked user reports Linked=false.
func (s *SessionServiceImpl) Status(ctx context.Context, telegramID string) (model.SessionStatus, error) {
	st, err := s.sessions.Get(ctx, telegramID)
	if errors.Is(err, errs.ErrNotFound) {
		return model.SessionStatus{}, nil
	}
	if err != nil {
		return model.SessionStatus{}, err
	}
	return model.SessionStatus{Linked: true, SavedAt: st.SavedAt}, nil
}

func (s *SessionServiceImpl) Reveal(ctx context.Context, telegramID string) (string, error) {
	st, err := s.sessions.Get(ctx, telegramID)
	if err != nil {
		return "", err
	}
	plain, err := s.cipher.Decrypt(st.CipherText)
	if err != nil {
		return "", fmt.Errorf("decrypt session: %w", err)
	}
	return string(plain), nil
}

func (s *SessionServiceImpl) Revoke(ctx context.Context, telegramID string) error {
	if err := s.sessions.Delete(ctx, telegramID); err != nil {
		return err
	}
	s.log.Info("session revoked", zap.String("user", telegramID))
	return nil
}

// Probe returns false without error when nothing is linked.
func (s *SessionServiceImpl) Probe(ctx context.Context, telegramID string) (bool, error) {
	raw, err := s.Reveal(ctx, telegramID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ok, err := s.prober.Authorized(ctx, raw)
	if err != nil {
		return false, fmt.Errorf("probe session: %w", err)
	}
	if ok {
		return true, nil
	}

	// Revoked on the platform side: drop our copy.
	if err := s.sessions.Delete(ctx, telegramID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return false, err
	}
	s.log.Info("stale session removed", zap.String("user", telegramID))
	return false, nil
}
