// Package config reads the server's settings from the environment.
//
// Every knob has a default that works for a single-node development setup;
// the only required value is AUTH_JWT_SECRET (or AUTH_DEV_HEADER=true).
// Load normalizes case and paths and rejects values that would make the
// matchmaking timings or the event publisher unusable.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API; empty means any.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig configures trace export over OTLP/gRPC.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "spark-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MatchmakingConfig holds queue and session timings.
type MatchmakingConfig struct {
	QueueTTL       time.Duration // QUEUE_TTL: how long a queue entry stays matchable
	SweepInterval  time.Duration // SWEEP_INTERVAL: expiry sweeper period
	JoinCandidates int           // JOIN_CANDIDATES: sessions tried per join
	JoinPolicy     string        // JOIN_POLICY: oldest|random
	RetryInitial   time.Duration // RETRY_INITIAL_INTERVAL
	RetryMaxElapse time.Duration // RETRY_MAX_ELAPSED
}

// AuthConfig defines how request identities are verified.
type AuthConfig struct {
	JWTSecret   string // AUTH_JWT_SECRET (HS256 shared secret)
	JWTAudience string // AUTH_JWT_AUDIENCE
	DevHeader   bool   // AUTH_DEV_HEADER: trust X-User-ID (development only)
}

// EventsConfig selects and configures the lifecycle event publisher.
type EventsConfig struct {
	Backend       string   // EVENTS_BACKEND: none|redis|kafka
	RedisAddr     string   // REDIS_ADDR
	RedisPassword string   // REDIS_PASSWORD
	RedisDB       int      // REDIS_DB
	Channel       string   // EVENTS_CHANNEL (redis pub/sub channel)
	KafkaBrokers  []string // KAFKA_BROKERS (csv)
	KafkaTopic    string   // KAFKA_TOPIC
}

// Config is the fully validated server configuration.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path

	Matchmaking MatchmakingConfig
	Auth        AuthConfig
	Events      EventsConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// Load builds a Config from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "spark.db"),

		Matchmaking: MatchmakingConfig{
			QueueTTL:       getdur("QUEUE_TTL", 10*time.Minute),
			SweepInterval:  getdur("SWEEP_INTERVAL", 60*time.Second),
			JoinCandidates: getint("JOIN_CANDIDATES", 5),
			JoinPolicy:     strings.ToLower(getenv("JOIN_POLICY", "oldest")),
			RetryInitial:   getdur("RETRY_INITIAL_INTERVAL", 50*time.Millisecond),
			RetryMaxElapse: getdur("RETRY_MAX_ELAPSED", 2*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:   getenv("AUTH_JWT_SECRET", ""),
			JWTAudience: getenv("AUTH_JWT_AUDIENCE", "authenticated"),
			DevHeader:   getbool("AUTH_DEV_HEADER", false),
		},
		Events: EventsConfig{
			Backend:       strings.ToLower(getenv("EVENTS_BACKEND", "none")),
			RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			Channel:       getenv("EVENTS_CHANNEL", "spark.matchmaking"),
			KafkaBrokers:  splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			KafkaTopic:    getenv("KAFKA_TOPIC", "spark.matchmaking"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "spark-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Matchmaking.QueueTTL <= 0 {
		return cfg, errors.New("QUEUE_TTL must be > 0")
	}
	if cfg.Matchmaking.SweepInterval <= 0 {
		return cfg, errors.New("SWEEP_INTERVAL must be > 0")
	}
	if cfg.Matchmaking.JoinCandidates < 1 {
		return cfg, errors.New("JOIN_CANDIDATES must be >= 1")
	}
	switch cfg.Matchmaking.JoinPolicy {
	case "oldest", "random":
	default:
		return cfg, errors.New("JOIN_POLICY must be one of: oldest, random")
	}
	if cfg.Matchmaking.RetryInitial <= 0 || cfg.Matchmaking.RetryMaxElapse <= 0 {
		return cfg, errors.New("RETRY_INITIAL_INTERVAL and RETRY_MAX_ELAPSED must be > 0")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" && !cfg.Auth.DevHeader {
		return cfg, errors.New("AUTH_JWT_SECRET must be set unless AUTH_DEV_HEADER is enabled")
	}
	switch cfg.Events.Backend {
	case "none":
	case "redis":
		if strings.TrimSpace(cfg.Events.RedisAddr) == "" {
			return cfg, errors.New("REDIS_ADDR must not be empty when EVENTS_BACKEND=redis")
		}
	case "kafka":
		if len(cfg.Events.KafkaBrokers) == 0 || strings.TrimSpace(cfg.Events.KafkaTopic) == "" {
			return cfg, errors.New("KAFKA_BROKERS and KAFKA_TOPIC must be set when EVENTS_BACKEND=kafka")
		}
	default:
		return cfg, errors.New("EVENTS_BACKEND must be one of: none, redis, kafka")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	// if cfg.APIBasePath == "" || cfg.APIBasePath[0] != '/' {
	// 	return cfg, errors.New("API_BASE_PATH must start with '/'")
	// }

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
