package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/limiter"
	"github.com/and161185/tglink/internal/metrics"
	"github.com/and161185/tglink/internal/model"
)

// Defaults for Options.
const (
	DefaultTeardownGrace = 500 * time.Millisecond
	DefaultPendingTTL    = 10 * time.Minute
	DefaultMaxOperations = 10_000

	floodWriteTimeout = 5 * time.Second
)

// Options tunes a Coordinator. Zero values select the defaults.
type Options struct {
	// TeardownGrace delays client teardown after a terminal transition so
	// in-flight I/O on the handle can drain.
	TeardownGrace time.Duration
	// PendingTTL bounds how long any operation is kept; pending ones are
	// aborted and their clients torn down on expiry.
	PendingTTL time.Duration
	// MaxOperations caps the registry; the oldest operation is evicted beyond it.
	// Each identity holds at most one operation, so the cap only bites when that
	// many distinct identities are linking at once.
	MaxOperations int
	// WaitForSettle makes CompleteAndPersist wait for the login to leave
	// pending instead of saving the session optimistically.
	WaitForSettle bool
	// Now overrides time.Now for flood-control and save timestamps.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TeardownGrace <= 0 {
		o.TeardownGrace = DefaultTeardownGrace
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = DefaultPendingTTL
	}
	if o.MaxOperations <= 0 {
		o.MaxOperations = DefaultMaxOperations
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Coordinator owns the registry of linking operations. All methods are safe
// for concurrent use.
type Coordinator struct {
	dialer   Dialer
	flood    limiter.FloodControl
	cipher   Encrypter
	sessions SessionWriter
	log      *zap.Logger
	opts     Options

	ops *expirable.LRU[uuid.UUID, *Operation]

	mu     sync.Mutex                        // serializes replace-and-add in StartHandshake
	latest *expirable.LRU[string, uuid.UUID] // identity -> its current operation

	base context.Context // parent of every background login
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New constructs a Coordinator.
func New(dialer Dialer, flood limiter.FloodControl, cipher Encrypter, sessions SessionWriter, log *zap.Logger, opts Options) *Coordinator {
	opts = opts.withDefaults()
	base, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		dialer:   dialer,
		flood:    flood,
		cipher:   cipher,
		sessions: sessions,
		log:      log.Named("handshake"),
		opts:     opts,
		base:     base,
		stop:     stop,
	}
	c.ops = expirable.NewLRU[uuid.UUID, *Operation](opts.MaxOperations, c.evicted, opts.PendingTTL)
	c.latest = expirable.NewLRU[string, uuid.UUID](opts.MaxOperations, nil, opts.PendingTTL)
	return c
}

// StartHandshake begins a platform login for identity and returns at once
// with the new operation id. The login continues in the background. Any
// earlier operation of the same identity is aborted and forgotten.
func (c *Coordinator) StartHandshake(ctx context.Context, identity, phone, password string) (uuid.UUID, error) {
	if identity == "" {
		return uuid.Nil, errs.ErrUnauthorized
	}
	blocked, resumeAt, err := c.flood.Blocked(ctx, identity)
	if err != nil {
		return uuid.Nil, fmt.Errorf("flood control: %w", err)
	}
	if blocked {
		metrics.RateLimited.Inc()
		return uuid.Nil, &errs.RateLimitedError{ResumeAt: resumeAt}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	client, err := c.dialer.Dial(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dial platform: %w", err)
	}

	loginCtx, cancel := context.WithCancel(c.base)
	op := newOperation(id, identity, client, cancel, c.opts.Now())
	c.mu.Lock()
	if prev, ok := c.latest.Get(identity); ok {
		c.supersede(prev)
	}
	c.ops.Add(id, op)
	c.latest.Add(identity, id)
	c.mu.Unlock()
	metrics.HandshakesStarted.Inc()
	metrics.HandshakesInFlight.Inc()

	c.wg.Add(1)
	go c.run(loginCtx, op, phone, password)

	c.log.Info("handshake started", zap.String("user", identity), zap.Stringer("op", id))
	return id, nil
}

// run drives the login to completion and records the outcome.
func (c *Coordinator) run(ctx context.Context, op *Operation, phone, password string) {
	defer c.wg.Done()
	defer c.scheduleTeardown(op)

	err := op.client.Login(ctx, phone,
		func(context.Context) (string, error) { return password, nil },
		op.awaitCode,
	)
	if err != nil {
		c.fail(op, err)
		return
	}
	if !op.finish(model.StatusCompleted, nil) {
		return
	}
	metrics.HandshakesFinished.WithLabelValues(string(model.StatusCompleted), "").Inc()

	fctx, cancel := context.WithTimeout(context.Background(), floodWriteTimeout)
	defer cancel()
	if err := c.flood.Clear(fctx, op.Identity); err != nil {
		c.log.Warn("flood control clear", zap.String("user", op.Identity), zap.Error(err))
	}
	c.log.Info("handshake completed", zap.String("user", op.Identity), zap.Stringer("op", op.ID))
}

func (c *Coordinator) fail(op *Operation, err error) {
	lerr := classify(err)
	if !op.finish(model.StatusErrored, lerr) {
		return
	}
	metrics.HandshakesFinished.WithLabelValues(string(model.StatusErrored), lerr.Class).Inc()
	c.log.Warn("handshake failed",
		zap.String("user", op.Identity),
		zap.Stringer("op", op.ID),
		zap.String("class", lerr.Class),
		zap.Int("code", lerr.Code),
		zap.Error(lerr.Err),
	)

	if lerr.Class != errs.ClassFlood || lerr.RetryAfter <= 0 {
		return
	}
	resumeAt := c.opts.Now().Add(lerr.RetryAfter)
	fctx, cancel := context.WithTimeout(context.Background(), floodWriteTimeout)
	defer cancel()
	if err := c.flood.Arm(fctx, op.Identity, resumeAt); err != nil {
		c.log.Error("flood control arm", zap.String("user", op.Identity), zap.Error(err))
		return
	}
	metrics.FloodArmed.Inc()
	c.log.Info("flood control armed", zap.String("user", op.Identity), zap.Time("resume_at", resumeAt))
}

func classify(err error) *errs.LoginError {
	var lerr *errs.LoginError
	if errors.As(err, &lerr) {
		return lerr
	}
	return &errs.LoginError{Class: errs.ClassUnknown, Err: err}
}

// SubmitCode delivers code into the operation's paused login. It does not wait
// for the login to use it.
func (c *Coordinator) SubmitCode(_ context.Context, identity string, id uuid.UUID, code string) error {
	op, err := c.lookup(identity, id)
	if err != nil {
		return err
	}
	if err := op.submit(code); err != nil {
		return err
	}
	c.log.Info("code submitted", zap.String("user", identity), zap.Stringer("op", id))
	return nil
}

// CompleteAndPersist encrypts the operation's current session, stores it for
// identity and returns the url-escaped cipher text.
//
// By default the session is read immediately, while the login may still be
// settling in the background: the auth key in the saved session is the one the
// login authorizes, so it becomes usable once the login completes. With
// Options.WaitForSettle it waits for the login and fails if it errored.
//
// The store is written at most once per operation; later calls return the
// first result.
func (c *Coordinator) CompleteAndPersist(ctx context.Context, identity string, id uuid.UUID) (string, error) {
	op, err := c.lookup(identity, id)
	if err != nil {
		return "", err
	}
	if c.opts.WaitForSettle {
		select {
		case <-op.settled:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if lerr := op.loginErr(); lerr != nil {
			return "", lerr
		}
	}

	op.persistMu.Lock()
	defer op.persistMu.Unlock()
	if op.persisted != "" {
		return op.persisted, nil
	}

	raw, err := op.client.Session(ctx)
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	cipherText, err := c.cipher.Encrypt([]byte(raw))
	if err != nil {
		return "", fmt.Errorf("encrypt session: %w", err)
	}
	if err := c.sessions.Upsert(ctx, identity, cipherText, c.opts.Now()); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	metrics.SessionsPersisted.Inc()
	c.log.Info("session saved", zap.String("user", identity), zap.Stringer("op", id))

	op.persisted = url.QueryEscape(cipherText)
	return op.persisted, nil
}

// Status returns a snapshot of the operation.
func (c *Coordinator) Status(_ context.Context, identity string, id uuid.UUID) (model.OperationView, error) {
	op, err := c.lookup(identity, id)
	if err != nil {
		return model.OperationView{}, err
	}
	return op.view(), nil
}

// Close aborts every outstanding login and waits for teardown.
func (c *Coordinator) Close() {
	c.stop()
	c.ops.Purge()
	c.latest.Purge()
	c.wg.Wait()
}

// lookup hides operations owned by someone else behind ErrNotFound.
func (c *Coordinator) lookup(identity string, id uuid.UUID) (*Operation, error) {
	op, ok := c.ops.Get(id)
	if !ok || op.Identity != identity {
		return nil, errs.ErrNotFound
	}
	return op, nil
}

// supersede drops the operation a newer start of the same identity replaces.
// Called with c.mu held.
func (c *Coordinator) supersede(id uuid.UUID) {
	op, ok := c.ops.Peek(id)
	if !ok {
		return
	}
	if op.finish(model.StatusErrored, &errs.LoginError{Class: errs.ClassSuperseded}) {
		metrics.HandshakesFinished.WithLabelValues(string(model.StatusErrored), errs.ClassSuperseded).Inc()
		c.log.Info("handshake superseded", zap.String("user", op.Identity), zap.Stringer("op", op.ID))
	}
	c.ops.Remove(id)
}

// evicted runs under the registry's lock on TTL expiry, capacity eviction or Purge.
func (c *Coordinator) evicted(_ uuid.UUID, op *Operation) {
	if op.finish(model.StatusErrored, &errs.LoginError{Class: errs.ClassExpired}) {
		metrics.HandshakesFinished.WithLabelValues(string(model.StatusErrored), errs.ClassExpired).Inc()
		c.log.Info("handshake expired", zap.String("user", op.Identity), zap.Stringer("op", op.ID))
	}
	op.cancel()
	c.scheduleTeardown(op)
}

// scheduleTeardown closes the client once, after the grace delay. Close errors
// are logged and dropped.
func (c *Coordinator) scheduleTeardown(op *Operation) {
	op.teardown.Do(func() {
		c.wg.Add(1)
		time.AfterFunc(c.opts.TeardownGrace, func() {
			defer c.wg.Done()
			op.cancel()
			if err := op.client.Close(); err != nil {
				c.log.Warn("client teardown", zap.Stringer("op", op.ID), zap.Error(err))
			}
			metrics.HandshakesInFlight.Dec()
		})
	})
}
