package domain

import "context"

type userIDKey struct{}

// WithUserID tags a request context with the channel-derived user identity.
// Tools that scope lookups to the current user read it back with UserID;
// the identity is server-derived and never taken from model arguments.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserID returns the identity set by WithUserID, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
