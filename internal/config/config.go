package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	AuthMode    string `mapstructure:"AUTH_MODE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`

	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	AuthIssuer    string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string        `mapstructure:"AUTH_AUDIENCE"`
	TokenTTL      time.Duration `mapstructure:"TOKEN_TTL"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	UploadMaxBytes int64    `mapstructure:"UPLOAD_MAX_BYTES"`

	InferenceAPIURL  string        `mapstructure:"INFERENCE_API_URL"`
	InferenceAPIKey  string        `mapstructure:"INFERENCE_API_KEY"`
	InferenceModelID string        `mapstructure:"INFERENCE_MODEL_ID"`
	InferenceTimeout time.Duration `mapstructure:"INFERENCE_TIMEOUT"`

	StorageBackend string        `mapstructure:"STORAGE_BACKEND"`
	MinioEndpoint  string        `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string        `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string        `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string        `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool          `mapstructure:"MINIO_USE_SSL"`
	MinioRegion    string        `mapstructure:"MINIO_REGION"`
	SignedURLTTL   time.Duration `mapstructure:"SIGNED_URL_TTL"`
	PublicBaseURL  string        `mapstructure:"PUBLIC_BASE_URL"`

	KafkaBrokers    []string `mapstructure:"KAFKA_BROKERS"`
	KafkaAuditTopic string   `mapstructure:"KAFKA_AUDIT_TOPIC"`

	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisPassword     string `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int    `mapstructure:"REDIS_DB"`
	AnalysisMode      string `mapstructure:"ANALYSIS_MODE"`
	WorkerConcurrency int    `mapstructure:"WORKER_CONCURRENCY"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"JWT_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "TOKEN_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "UPLOAD_MAX_BYTES",
	"INFERENCE_API_URL", "INFERENCE_API_KEY", "INFERENCE_MODEL_ID", "INFERENCE_TIMEOUT",
	"STORAGE_BACKEND", "MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY",
	"MINIO_BUCKET", "MINIO_USE_SSL", "MINIO_REGION", "SIGNED_URL_TTL", "PUBLIC_BASE_URL",
	"KAFKA_BROKERS", "KAFKA_AUDIT_TOPIC",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "ANALYSIS_MODE", "WORKER_CONCURRENCY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("TOKEN_TTL", "8h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("UPLOAD_MAX_BYTES", 50*1024*1024)
	v.SetDefault("INFERENCE_API_URL", "https://classify.roboflow.com")
	v.SetDefault("INFERENCE_TIMEOUT", "60s")
	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("MINIO_BUCKET", "xrays")
	v.SetDefault("MINIO_REGION", "us-east-1")
	v.SetDefault("SIGNED_URL_TTL", "15m")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("KAFKA_AUDIT_TOPIC", "pyneumonia.audit")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("ANALYSIS_MODE", "sync")
	v.SetDefault("WORKER_CONCURRENCY", 4)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.ResolvedAuthMode() == "development" {
		log.Println("WARNING: ENV=development without JWT_SIGNING_KEY: every request runs as an administrator.")
	}

	return cfg, nil
}

// splitList normalizes comma separated env values that viper may hand back
// either as a single element or not at all.
func splitList(current []string, raw string) []string {
	if len(current) > 0 {
		raw = strings.Join(current, ",")
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development without
// a signing key runs unauthenticated and everything else uses JWT.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() && c.JWTSigningKey == "" {
		return "development"
	}
	return "jwt"
}

// AsyncAnalysis reports whether analyses are dispatched to the worker queue.
func (c *Config) AsyncAnalysis() bool {
	return strings.EqualFold(c.AnalysisMode, "async")
}

func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "jwt":
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	switch c.StorageBackend {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORAGE_BACKEND=memory is not allowed in production")
		}
	case "minio":
		if c.MinioEndpoint == "" || c.MinioAccessKey == "" || c.MinioSecretKey == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when STORAGE_BACKEND=minio")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"memory\" or \"minio\", got %q", c.StorageBackend)
	}

	if c.AnalysisMode != "sync" && c.AnalysisMode != "async" {
		return fmt.Errorf("ANALYSIS_MODE must be \"sync\" or \"async\", got %q", c.AnalysisMode)
	}
	// The worker runs in its own process and cannot see an in-memory store.
	if c.AsyncAnalysis() && c.StorageBackend == "memory" {
		return fmt.Errorf("ANALYSIS_MODE=async requires STORAGE_BACKEND=minio")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	return nil
}
