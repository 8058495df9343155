// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity. Every matchmaking endpoint acts
// on behalf of exactly one user, so requests without a verified identity are
// rejected before they reach a handler.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-backend/internal/auth"
)

const (
	// ctxKeyUserID is the Gin context key holding the authenticated user id.
	ctxKeyUserID = "userID"
	// HeaderUserID carries a plain user id when development identities are enabled.
	HeaderUserID = "X-User-ID"
)

// UserID returns the authenticated user id stored by RequireAuth, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireAuth verifies the bearer token with v and stores the subject as
// the request's user id. With devHeader enabled, a request carrying
// X-User-ID and no Authorization header is trusted as-is; this mode is for
// local development only.
//
// Failures respond 401 with the standard error envelope.
func RequireAuth(v auth.Verifier, devHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")

		if devHeader && authz == "" {
			if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
				c.Set(ctxKeyUserID, uid)
				c.Next()
				return
			}
		}

		tok, ok := auth.BearerToken(authz)
		if !ok || v == nil {
			unauthorized(c, "missing bearer token")
			return
		}
		uid, err := v.Verify(c.Request.Context(), tok)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("token rejected")
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="spark"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
