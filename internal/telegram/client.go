// Package telegram adapts the gotd MTProto client to the handshake and
// session-probe interfaces.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
	gotd "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"go.uber.org/zap"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/handshake"
)

// Dialer creates platform clients bound to one API application.
type Dialer struct {
	appID   int
	appHash string
	log     *zap.Logger
}

// NewDialer returns a Dialer for the given API credentials.
func NewDialer(appID int, appHash string, log *zap.Logger) *Dialer {
	return &Dialer{appID: appID, appHash: appHash, log: log.Named("telegram")}
}

func (d *Dialer) newClient(storage session.Storage) *gotd.Client {
	return gotd.NewClient(d.appID, d.appHash, gotd.Options{
		SessionStorage: storage,
		Logger:         d.log,
		NoUpdates:      true,
	})
}

// Dial returns a fresh client with an empty in-memory session. The connection
// is opened by Login.
func (d *Dialer) Dial(context.Context) (handshake.Client, error) {
	storage := &session.StorageMemory{}
	return &Client{
		tg:      d.newClient(storage),
		storage: storage,
		done:    make(chan struct{}),
	}, nil
}

// Client is one MTProto connection used for a single login.
type Client struct {
	tg      *gotd.Client
	storage *session.StorageMemory

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	done    chan struct{} // closed when Login returns
}

var _ handshake.Client = (*Client)(nil)

// Login connects and runs the code flow. It returns once the account is
// signed in or the flow fails.
func (c *Client) Login(ctx context.Context, phone string, password handshake.PasswordFunc, code handshake.CodeFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		cancel()
		return errors.New("telegram: login already started")
	}
	c.started = true
	c.cancel = cancel
	c.mu.Unlock()
	defer close(c.done)
	defer cancel()

	flow := auth.NewFlow(userAuth{phone: phone, password: password, code: code}, auth.SendCodeOptions{})
	err := c.tg.Run(ctx, func(ctx context.Context) error {
		return c.tg.Auth().IfNecessary(ctx, flow)
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Session returns the serialized session. It is available as soon as the
// connection has negotiated its auth key.
func (c *Client) Session(ctx context.Context) (string, error) {
	data, err := c.storage.LoadSession(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return "", errs.ErrNotReady
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return string(data), nil
}

// Close stops the connection and waits for Login to return.
func (c *Client) Close() error {
	c.mu.Lock()
	started, cancel := c.started, c.cancel
	c.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	<-c.done
	return nil
}
