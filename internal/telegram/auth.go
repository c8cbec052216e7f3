package telegram

import (
	"context"
	"errors"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/handshake"
)

// ErrSignUpRequired is returned when the phone has no account.
var ErrSignUpRequired = errors.New("telegram: phone number is not registered")

// userAuth feeds the gotd auth flow from the handshake callbacks.
type userAuth struct {
	phone    string
	password handshake.PasswordFunc
	code     handshake.CodeFunc
}

var _ auth.UserAuthenticator = userAuth{}

func (a userAuth) Phone(context.Context) (string, error) { return a.phone, nil }

func (a userAuth) Password(ctx context.Context) (string, error) {
	pw, err := a.password(ctx)
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", auth.ErrPasswordNotProvided
	}
	return pw, nil
}

func (a userAuth) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.code(ctx)
}

func (a userAuth) AcceptTermsOfService(context.Context, tg.HelpTermsOfService) error {
	return ErrSignUpRequired
}

func (a userAuth) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, ErrSignUpRequired
}

// classify turns an RPC failure into an *errs.LoginError; other errors pass
// through unchanged.
func classify(err error) error {
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &errs.LoginError{Class: errs.ClassFlood, Code: 420, RetryAfter: d, Err: err}
	}
	if rpcErr, ok := tgerr.As(err); ok {
		return &errs.LoginError{Class: rpcErr.Type, Code: rpcErr.Code, Err: err}
	}
	return err
}
