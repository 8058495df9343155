// Idempotency-Key handling for POST /session and POST /session/join.
//
// A retried create or join must not fail just because the first attempt
// already consumed the caller's queue entry. The validator checks the key's
// shape, asks storage whether (user, scope, key) already produced a session,
// and flags the request so the handler answers with that session and the
// rate limiter lets it through for free.

package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client-chosen retry key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// defaultIdemKeyPattern admits UUIDs and similar opaque tokens.
var defaultIdemKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether storage already holds a result for this key.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern overrides the allowed key alphabet.
	Pattern *regexp.Regexp
	// Scopes maps "METHOD /registered/route" to a lookup scope such as
	// "session.create". Unlisted routes get shape validation only.
	Scopes map[string]string
}

// IdempotencyLookup reports whether an unexpired record exists for
// (userID, scope, key). Errors are logged and treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator must run after RequireAuth (lookups are per user) and
// before the rate limiter. A missing header is a no-op; a malformed one is
// rejected with 400. It never serves the stored session itself.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			scope := opts.Scopes[c.Request.Method+" "+c.FullPath()]
			uid := UserID(c)
			if scope != "" && uid != "" {
				exists, err := lookup(c.Request.Context(), uid, scope, key, time.Now().UTC())
				if err != nil {
					LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
				}
				if exists {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}

		c.Next()
	}
}
