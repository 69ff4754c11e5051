package clients

import (
	"context"
	"net/http"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	requestIDKey
)

// propagated maps context values onto outgoing request headers
var propagated = []struct {
	key    ctxKey
	header string
}{
	{userIDKey, HeaderUserID},
	{requestIDKey, HeaderRequestID},
}

// WithUserID tags ctx with the user whose trees a request reads or writes
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID reports the user id in ctx; empty ids count as absent
func GetUserID(ctx context.Context) (string, bool) {
	return lookup(ctx, userIDKey)
}

// WithRequestID tags ctx with a correlation id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID reports the correlation id in ctx
func GetRequestID(ctx context.Context) (string, bool) {
	return lookup(ctx, requestIDKey)
}

func lookup(ctx context.Context, key ctxKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}

// applyIdentity copies every propagated context value present in ctx onto req
func applyIdentity(ctx context.Context, req *http.Request) {
	for _, p := range propagated {
		if v, ok := lookup(ctx, p.key); ok {
			req.Header.Set(p.header, v)
		}
	}
}
