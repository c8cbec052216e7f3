package handshake

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/model"
)

// Operation is one in-flight or finished linking attempt.
type Operation struct {
	ID        uuid.UUID
	Identity  string
	CreatedAt time.Time

	client Client
	cancel context.CancelFunc // stops the background login

	mu        sync.Mutex
	status    model.OperationStatus
	err       *errs.LoginError
	code      *waiter // nil once terminal

	persistMu sync.Mutex // serializes CompleteAndPersist; never held with mu
	persisted string     // url-escaped blob returned by the first CompleteAndPersist

	settled  chan struct{} // closed on the first terminal transition
	teardown sync.Once
}

func newOperation(id uuid.UUID, identity string, client Client, cancel context.CancelFunc, now time.Time) *Operation {
	return &Operation{
		ID:        id,
		Identity:  identity,
		CreatedAt: now,
		client:    client,
		cancel:    cancel,
		status:    model.StatusPending,
		code:      newWaiter(),
		settled:   make(chan struct{}),
	}
}

// submit hands code to the current waiter. A failed login reports its
// classified error instead.
func (o *Operation) submit(code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == model.StatusErrored && o.err != nil {
		return o.err
	}
	if o.code == nil || !o.code.resolve(code) {
		return errs.ErrNotReady
	}
	return nil
}

// awaitCode is the login's CodeFunc: it blocks on the current waiter and
// re-arms a fresh one once the code is consumed.
func (o *Operation) awaitCode(ctx context.Context) (string, error) {
	o.mu.Lock()
	w := o.code
	o.mu.Unlock()
	if w == nil {
		return "", errs.ErrNotReady
	}

	select {
	case code := <-w.ch:
		o.mu.Lock()
		if o.code == w {
			o.code = newWaiter()
		}
		o.mu.Unlock()
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// finish moves a pending operation to a terminal status. Only the first call wins.
func (o *Operation) finish(status model.OperationStatus, lerr *errs.LoginError) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Terminal() {
		return false
	}
	o.status = status
	o.err = lerr
	o.code = nil
	close(o.settled)
	return true
}

func (o *Operation) loginErr() *errs.LoginError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *Operation) view() model.OperationView {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := model.OperationView{
		ID:        o.ID,
		Identity:  o.Identity,
		Status:    o.status,
		CreatedAt: o.CreatedAt,
	}
	if o.err != nil {
		v.ErrorClass = o.err.Class
	}
	return v
}
