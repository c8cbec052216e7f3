package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/tgerr"
)

// Authorized connects with a stored session and reports whether it is still
// signed in. A revoked auth key reports false without error.
func (d *Dialer) Authorized(ctx context.Context, sessionData string) (bool, error) {
	storage := &session.StorageMemory{}
	if err := storage.StoreSession(ctx, []byte(sessionData)); err != nil {
		return false, fmt.Errorf("load stored session: %w", err)
	}

	client := d.newClient(storage)
	var authorized bool
	err := client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return err
		}
		authorized = status.Authorized
		return nil
	})
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED") {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return authorized, nil
}
