// Package limiter implements per-identity flood control for handshake starts.
package limiter

import (
	"context"
	"time"
)

// FloodControl tracks cool-downs armed after the chat platform reports a flood wait.
type FloodControl interface {
	// Blocked reports whether new handshakes are rejected for identity, and until when.
	Blocked(ctx context.Context, identity string) (bool, time.Time, error)
	// Arm rejects new handshakes for identity until resumeAt.
	Arm(ctx context.Context, identity string, resumeAt time.Time) error
	// Clear removes any cool-down for identity.
	Clear(ctx context.Context, identity string) error
}
