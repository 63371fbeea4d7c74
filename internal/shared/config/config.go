package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"servicesift-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	LogLevel        string
	LogFormat       string
	AppBaseURL      string

	DatabaseURL string

	SupabaseJWTSecret string
	InternalAPISecret string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string
	FreeMode            bool
	PipelineDebugSync   bool
	StaleAfter          time.Duration

	ExtractionURL        string
	ExtractionToken      string
	ExtractionMaxReviews int
	ExtractionTimeout    time.Duration

	AnthropicAPIKey string
	AnthropicModel  string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	ArtifactURLTTL  time.Duration

	SQSQueueURL             string
	WorkerConcurrency       int
	WorkerMaxReceives       int
	WorkerVisibilityTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from the environment, an optional .env file, and an optional
// config file named by SERVICESIFT_CONFIG.
func Load() Config {
	v := viper.New()
	setDefaults(v)

	// Best-effort load of local env files for dev convenience.
	for _, path := range []string{".env", "cmd/.env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.MergeInConfig(); err != nil {
			telemetry.Warn("config.env_file_unreadable", map[string]any{"path": path, "error": err})
		}
	}
	if path := strings.TrimSpace(os.Getenv("SERVICESIFT_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				telemetry.Warn("config.file_unreadable", map[string]any{"path": path, "error": err})
			}
		}
	}
	v.AutomaticEnv()

	env := normalizeEnv(v.GetString("ENV"))
	cfg := Config{
		Port:            v.GetString("PORT"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		AppBaseURL:      strings.TrimRight(v.GetString("APP_BASE_URL"), "/"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		SupabaseJWTSecret: v.GetString("SUPABASE_JWT_SECRET"),
		InternalAPISecret: v.GetString("INTERNAL_API_SECRET"),

		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeCurrency:      strings.ToLower(v.GetString("STRIPE_CURRENCY")),
		FreeMode:            v.GetBool("FREE_MODE"),
		PipelineDebugSync:   v.GetBool("PIPELINE_DEBUG_SYNC"),
		StaleAfter:          v.GetDuration("STALE_AFTER"),

		ExtractionURL:        v.GetString("EXTRACTION_URL"),
		ExtractionToken:      v.GetString("EXTRACTION_TOKEN"),
		ExtractionMaxReviews: v.GetInt("EXTRACTION_MAX_REVIEWS"),
		ExtractionTimeout:    v.GetDuration("EXTRACTION_TIMEOUT"),

		AnthropicAPIKey: v.GetString("ANTHROPIC_API_KEY"),
		AnthropicModel:  v.GetString("ANTHROPIC_MODEL"),

		ObjectStoreType: normalizeStoreType(v.GetString("OBJECT_STORE")),
		LocalStoreDir:   v.GetString("LOCAL_STORE_DIR"),
		AWSRegion:       v.GetString("AWS_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Prefix:        v.GetString("S3_PREFIX"),
		SSEKMSKeyID:     v.GetString("SSE_KMS_KEY_ID"),
		ArtifactURLTTL:  clampArtifactTTL(v.GetDuration("ARTIFACT_URL_TTL")),

		SQSQueueURL:             v.GetString("SQS_QUEUE_URL"),
		WorkerConcurrency:       v.GetInt("WORKER_CONCURRENCY"),
		WorkerMaxReceives:       v.GetInt("WORKER_MAX_RECEIVES"),
		WorkerVisibilityTimeout: v.GetDuration("WORKER_VISIBILITY_TIMEOUT"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
	}

	if env == "production" && cfg.DatabaseURL == "" {
		telemetry.Error("config.missing", map[string]any{"key": "DATABASE_URL", "env": env})
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "dev")
	v.SetDefault("CORS_ALLOW_ORIGINS", "http://localhost:5173")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_BASE_URL", "http://localhost:5173")
	v.SetDefault("STRIPE_CURRENCY", "usd")
	v.SetDefault("FREE_MODE", false)
	v.SetDefault("PIPELINE_DEBUG_SYNC", false)
	v.SetDefault("STALE_AFTER", "10m")
	v.SetDefault("EXTRACTION_MAX_REVIEWS", 200)
	v.SetDefault("EXTRACTION_TIMEOUT", "240s")
	v.SetDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929")
	v.SetDefault("OBJECT_STORE", "local")
	v.SetDefault("LOCAL_STORE_DIR", "./data")
	v.SetDefault("ARTIFACT_URL_TTL", "5m")
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("WORKER_MAX_RECEIVES", 3)
	v.SetDefault("WORKER_VISIBILITY_TIMEOUT", "15m")
	v.SetDefault("RATE_LIMIT_RPS", 1.0)
	v.SetDefault("RATE_LIMIT_BURST", 5)
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

// Signed artifact URLs live between 5 and 10 minutes.
func clampArtifactTTL(d time.Duration) time.Duration {
	switch {
	case d < 5*time.Minute:
		return 5 * time.Minute
	case d > 10*time.Minute:
		return 10 * time.Minute
	default:
		return d
	}
}

// IsDevLike reports whether env permits in-memory fallbacks.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
