package httpapi

import "context"

type ctxKey string

const identityKey ctxKey = "tglink.identity"

// WithIdentity stores the authenticated telegram id in context.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromCtx fetches the telegram id from context.
func IdentityFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(string)
	return id, ok && id != ""
}
