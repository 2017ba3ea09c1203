package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey string

const IdentityKey contextKey = "identity"

// Middleware resolves the caller once per request and stores the identity on
// both the gin context and the request context.
func Middleware(resolver *Resolver, sessionCookie string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := resolver.Resolve(c.Request.Context(), HandshakeFromRequest(c.Request, sessionCookie))
		if err != nil {
			c.AbortWithStatusJSON(errors.HTTPStatus(err), gin.H{
				"success": false,
				"error":   errors.PublicMessage(err),
			})
			return
		}
		c.Set(string(IdentityKey), identity)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// RequireIdentity rejects anonymous callers.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFrom(c.Request.Context()).IsAnonymous() {
			c.AbortWithStatusJSON(errors.HTTPStatus(errors.ErrAnonymous), gin.H{
				"success": false,
				"error":   errors.ErrAnonymous.Error(),
			})
			return
		}
		c.Next()
	}
}

func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFrom returns domain.Anonymous when no identity was resolved.
func IdentityFrom(ctx context.Context) domain.Identity {
	if identity, ok := ctx.Value(IdentityKey).(domain.Identity); ok {
		return identity
	}
	return domain.Anonymous
}
