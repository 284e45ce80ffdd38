package identity

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// Anonymous is the subject recorded when no identity reaches the service.
// Authentication happens upstream; this layer only reads the result.
const Anonymous = "unauthenticated"

const userIDHeader = "X-User-Id"

type contextKey struct{}

// Resolver answers who is acting in the current request.
type Resolver interface {
	CurrentUserID(ctx context.Context) string
}

type headerResolver struct{}

func NewResolver() Resolver { return headerResolver{} }

func (headerResolver) CurrentUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(contextKey{}).(string); ok && userID != "" {
		return userID
	}
	return Anonymous
}

// ContextWithUserID stamps an already-authenticated subject onto the context.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// GinMiddleware lifts the upstream identity header into the request context.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := strings.TrimSpace(c.GetHeader(userIDHeader)); userID != "" {
			c.Request = c.Request.WithContext(ContextWithUserID(c.Request.Context(), userID))
		}
		c.Next()
	}
}

var Module = fx.Module("identity",
	fx.Provide(NewResolver),
)
