package middleware

import (
	"context"
	"slices"
)

// Caller is the authenticated principal behind a request: a portal user
// reading their own feed, or an internal service submitting events.
type Caller struct {
	UserID      string
	Username    string
	Permissions []string
}

// Can reports whether the caller holds permission. platform:admin holds
// every permission.
func (c Caller) Can(permission string) bool {
	return slices.Contains(c.Permissions, PermissionPlatformAdmin) || slices.Contains(c.Permissions, permission)
}

type callerKey struct{}

// SetUserContext stores the authenticated caller in ctx.
func SetUserContext(ctx context.Context, userID, username string, permissions []string) context.Context {
	return context.WithValue(ctx, callerKey{}, Caller{
		UserID:      userID,
		Username:    username,
		Permissions: permissions,
	})
}

// CallerFrom returns the authenticated caller and false when the request
// is anonymous.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok && c.UserID != ""
}

// GetUserID returns the authenticated user id, or "".
func GetUserID(ctx context.Context) string {
	c, _ := CallerFrom(ctx)
	return c.UserID
}
