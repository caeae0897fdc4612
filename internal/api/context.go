package api

import "context"

type contextKey string

const (
	userIDKey   contextKey = "userID"
	usernameKey contextKey = "username"
)

// UserIDFromContext extracts the user ID from the context.
// Returns empty string if not present.
func UserIDFromContext(ctx context.Context) string {
	if v := ctx.Value(userIDKey); v != nil {
		if userID, ok := v.(string); ok {
			return userID
		}
	}

	return ""
}

// UsernameFromContext extracts the display name from the context, falling
// back to the user ID.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok && v != "" {
		return v
	}

	return UserIDFromContext(ctx)
}

// withUser returns a new context with the user ID and display name set.
func withUser(ctx context.Context, userID, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)

	return context.WithValue(ctx, usernameKey, username)
}
