// Package httpapi wires the HTTP transport (Gin) to the matchmaking services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/spark-backend/internal/auth"
	"github.com/tbourn/spark-backend/internal/config"
	"github.com/tbourn/spark-backend/internal/events"
	"github.com/tbourn/spark-backend/internal/http/handlers"
	"github.com/tbourn/spark-backend/internal/http/middleware"
	"github.com/tbourn/spark-backend/internal/services"
)

// Services bundles the application services the HTTP layer calls.
type Services struct {
	Queue       *services.MatchmakingService
	Sessions    *services.SessionService
	Preferences *services.PreferencesService
}

// NewServices builds the queue, session and preferences services over db,
// configured from cfg. pub receives lifecycle events; nil disables them.
func NewServices(db *gorm.DB, pub events.Publisher, cfg config.Config) Services {
	retry := services.RetryPolicy{
		InitialInterval: cfg.Matchmaking.RetryInitial,
		MaxElapsed:      cfg.Matchmaking.RetryMaxElapse,
	}

	q := services.NewMatchmakingService(db)
	q.TTL = cfg.Matchmaking.QueueTTL
	q.Events = pub
	q.Retry = retry

	s := services.NewSessionService(db, q)
	s.Selector = services.SelectorByName(cfg.Matchmaking.JoinPolicy, 4*cfg.Matchmaking.JoinCandidates)
	if cfg.Matchmaking.JoinCandidates > 0 {
		s.JoinCandidates = cfg.Matchmaking.JoinCandidates
	}
	if cfg.IdempotencyTTL > 0 {
		s.IdempotencyTTL = cfg.IdempotencyTTL
	}

	p := services.NewPreferencesService(db)
	p.Retry = retry

	return Services{Queue: q, Sessions: s, Preferences: p}
}

// idempotencyScopes names the operations whose Idempotency-Key is looked up.
func idempotencyScopes(base string) map[string]string {
	if base == "/" {
		base = ""
	}
	return map[string]string{
		http.MethodPost + " " + base + "/session":      services.ScopeCreateSession,
		http.MethodPost + " " + base + "/session/join": services.ScopeJoinSession,
	}
}

// newVerifier returns the JWT verifier for cfg, or nil when only
// development identities are enabled.
func newVerifier(cfg config.AuthConfig) auth.Verifier {
	if cfg.JWTSecret == "" {
		return nil
	}
	v, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		log.Error().Err(err).Msg("jwt verifier disabled")
		return nil
	}
	return v
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health and metrics endpoints, and then mounts the versioned public
// API under cfg.APIBasePath behind authentication, idempotency and rate
// limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLog: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter, gzip
//  6. Metrics
//  7. CORS and Security headers
//
// API group only:
//  8. RequireAuth (user id for everything below)
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user, bypass on replay)
func RegisterRoutes(r *gin.Engine, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.AccessLog(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderUserID},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; payloads are small JSON objects) and compression
	r.Use(limitBody(64 << 10))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{cfg.APIBasePath},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Readiness: storage reachable
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if sqlDB, err := svc.Queue.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeStorageUnavailable, "database not reachable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc.Queue, svc.Sessions, svc.Preferences)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	api.Use(middleware.RequireAuth(newVerifier(cfg.Auth), cfg.Auth.DevHeader))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scopes: idempotencyScopes(apiBase),
		},
		svc.Sessions.HasReplay,
	))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api.Use(rl.Handler())
	{
		// Queue
		api.POST("/queue", h.Enqueue)
		api.GET("/queue", h.PeekQueue)
		api.DELETE("/queue", h.Dequeue)

		// Sessions
		api.POST("/session", h.CreateSession)
		api.POST("/session/join", h.JoinSession)
		api.GET("/session", h.GetSession)
		api.DELETE("/session", h.LeaveSession)
		api.GET("/session/history", h.SessionHistory)

		// Preferences
		api.GET("/me/preferences", h.GetPreferences)
		api.PUT("/me/preferences", h.UpdatePreferences)
		api.PUT("/me/location", h.SetLocation)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
