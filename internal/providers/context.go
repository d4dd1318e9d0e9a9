package providers

import "context"

type sessionIDKeyType struct{}

var sessionIDKey = sessionIDKeyType{}

// WithSessionID returns a context carrying the correlation session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID extracts the correlation session id from context.
func SessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}
