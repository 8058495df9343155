package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/spark-backend/internal/config"
	"github.com/tbourn/spark-backend/internal/domain"
	"github.com/tbourn/spark-backend/internal/events"
	"github.com/tbourn/spark-backend/internal/http/middleware"
	"github.com/tbourn/spark-backend/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   50,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Matchmaking: config.MatchmakingConfig{
			QueueTTL:       10 * time.Minute,
			SweepInterval:  time.Minute,
			JoinCandidates: 5,
			JoinPolicy:     "oldest",
			RetryInitial:   5 * time.Millisecond,
			RetryMaxElapse: 2 * time.Second,
		},
		Auth:           config.AuthConfig{JWTSecret: "router-secret", JWTAudience: "authenticated", DevHeader: true},
		IdempotencyTTL: time.Hour,
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := NewServices(newTestDB(t), events.Nop{}, cfg)
	RegisterRoutes(r, svc, cfg)
	return r, svc
}

func call(r *gin.Engine, method, path, uid string, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set(middleware.HeaderUserID, uid)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) domain.Session {
	t.Helper()
	var s domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s), w.Body.String())
	return s
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	// /ready pings the database
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /ready = %d", w.Code)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestRouter(t, cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_APIRequiresAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.DevHeader = false
	r, _ := newTestRouter(t, cfg)

	w := call(r, http.MethodPost, "/api/v1/queue", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// dev header is ignored when disabled
	w = call(r, http.MethodPost, "/api/v1/queue", "u1", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "jwt-user",
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("router-secret"))
	require.NoError(t, err)

	w = call(r, http.MethodPost, "/api/v1/queue", "", "", map[string]string{"Authorization": "Bearer " + tok})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var e domain.QueueEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	require.Equal(t, "jwt-user", e.UserID)
}

// End to end over HTTP: host queues and creates, guest queues and joins,
// host leaves and the guest is back in the queue.
func TestRegisterRoutes_MatchmakingFlow(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	const api = "/api/v1"

	// preferences feed the snapshot
	w := call(r, http.MethodPut, api+"/me/preferences", "host", `{"target_gender":"Women","age_min":21,"age_max":30,"max_distance":15}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Equal(t, http.StatusForbidden, call(r, http.MethodPost, api+"/session", "host", `{"mode_id":"video"}`, nil).Code)

	w = call(r, http.MethodPost, api+"/queue", "host", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var entry domain.QueueEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	require.Contains(t, string(entry.PreferencesSnapshot), `"women"`)
	require.Equal(t, http.StatusConflict, call(r, http.MethodPost, api+"/queue", "host", "", nil).Code)

	idem := map[string]string{middleware.HeaderIdempotencyKey: "create-1"}
	w = call(r, http.MethodPost, api+"/session", "host", `{"mode_id":"video"}`, idem)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decodeSession(t, w)
	require.Equal(t, domain.SessionOpen, created.Status)
	require.Nil(t, created.GuestID)

	// the entry was consumed, yet the retry replays the same session
	require.Equal(t, http.StatusNotFound, call(r, http.MethodGet, api+"/queue", "host", "", nil).Code)
	w = call(r, http.MethodPost, api+"/session", "host", `{"mode_id":"video"}`, idem)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "true", w.Header().Get("Idempotency-Replayed"))
	require.Equal(t, created.ID, decodeSession(t, w).ID)

	// joining without queueing is forbidden; after queueing it succeeds
	require.Equal(t, http.StatusForbidden, call(r, http.MethodPost, api+"/session/join", "guest", "", nil).Code)
	require.Equal(t, http.StatusOK, call(r, http.MethodPost, api+"/queue", "guest", "", nil).Code)
	w = call(r, http.MethodPost, api+"/session/join", "guest", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	joined := decodeSession(t, w)
	require.Equal(t, created.ID, joined.ID)
	require.NotNil(t, joined.GuestID)
	require.Equal(t, "guest", *joined.GuestID)

	w = call(r, http.MethodGet, api+"/session", "guest", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, created.ID, decodeSession(t, w).ID)

	// nobody else can join a full session
	require.Equal(t, http.StatusOK, call(r, http.MethodPost, api+"/queue", "third", "", nil).Code)
	w = call(r, http.MethodPost, api+"/session/join", "third", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	// host leaves with a guest present: abandoned, guest re-queued
	w = call(r, http.MethodDelete, api+"/session", "host", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	left := decodeSession(t, w)
	require.Equal(t, domain.SessionAbandoned, left.Status)
	require.NotNil(t, left.ClosedAt)

	require.Equal(t, http.StatusOK, call(r, http.MethodGet, api+"/queue", "guest", "", nil).Code)
	require.Equal(t, http.StatusNotFound, call(r, http.MethodGet, api+"/session", "guest", "", nil).Code)
	require.Equal(t, http.StatusNotFound, call(r, http.MethodDelete, api+"/session", "host", "", nil).Code)

	w = call(r, http.MethodGet, api+"/session/history", "host", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Sessions   []domain.Session `json:"sessions"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Equal(t, int64(1), hist.Pagination.Total)
	require.Equal(t, domain.SessionAbandoned, hist.Sessions[0].Status)
}

func Test_idempotencyScopes(t *testing.T) {
	got := idempotencyScopes("/api/v1")
	require.Equal(t, "session.create", got["POST /api/v1/session"])
	require.Equal(t, "session.join", got["POST /api/v1/session/join"])

	root := idempotencyScopes("/")
	require.Equal(t, "session.create", root["POST /session"])
}

func Test_NewServices_AppliesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Matchmaking.QueueTTL = 3 * time.Minute
	cfg.Matchmaking.JoinCandidates = 2
	cfg.Matchmaking.JoinPolicy = "random"
	svc := NewServices(newTestDB(t), nil, cfg)

	require.Equal(t, 3*time.Minute, svc.Queue.TTL)
	require.Equal(t, 2, svc.Sessions.JoinCandidates)
	require.Equal(t, time.Hour, svc.Sessions.IdempotencyTTL)
	require.Equal(t, 5*time.Millisecond, svc.Preferences.Retry.InitialInterval)
	require.NotNil(t, svc.Sessions.Selector)
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}
