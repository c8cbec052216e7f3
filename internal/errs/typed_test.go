package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitedError_IsSentinel(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := fmt.Errorf("start: %w", &RateLimitedError{ResumeAt: at})

	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, at, rl.ResumeAt)
	require.Contains(t, err.Error(), "2026-01-02T03:04:05Z")
}

func TestLoginError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	raw := context.DeadlineExceeded
	err := &LoginError{Class: ClassUnknown, Err: raw}

	require.ErrorIs(t, err, ErrExternalLogin)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, errors.Is(err, ErrRateLimited))
	require.Equal(t, "external login failed: EXPIRED", (&LoginError{Class: ClassExpired}).Error())
}
