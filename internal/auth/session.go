package auth

import "context"

// contextKey prevents collisions with other context values.
type contextKey string

const sessionKey contextKey = "tradeshell:sid"

// WithSessionID stores the browser session id on the request context.
func WithSessionID(ctx context.Context, sid string) context.Context {
	if sid == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sid)
}

// SessionIDFromContext retrieves the browser session id, when available.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionKey).(string)
	return sid, ok && sid != ""
}
