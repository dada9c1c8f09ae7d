package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Storage   StorageConfig
	Uploads   UploadConfig
	OCR       OCRConfig
	Progress  ProgressConfig
	RateLimit RateLimitConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects and parameterises the object-store backend.
type StorageConfig struct {
	Backend   string // "local" or "gcs"
	LocalDir  string
	GCSBucket string
}

// UploadConfig bounds what the upload endpoints accept.
type UploadConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	MaxBulkFiles     int
}

// OCRConfig tunes the extraction provider and the pipeline worker pool.
type OCRConfig struct {
	APIKey              string
	Model               string
	Endpoint            string
	RequestTimeout      time.Duration
	ConfidenceThreshold float64
	JobTimeout          time.Duration
	WorkerConcurrency   int
	WorkerRetries       int
	RequeueAfter        time.Duration
	RequeueInterval     time.Duration
}

// ProgressConfig controls the SSE batch-progress stream.
type ProgressConfig struct {
	PollInterval  time.Duration
	StreamTimeout time.Duration
	SnapshotTTL   time.Duration
}

// RateLimitConfig governs the Redis fixed-window limiter.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 15*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		Backend:   v.GetString("STORAGE_BACKEND"),
		LocalDir:  v.GetString("STORAGE_LOCAL_DIR"),
		GCSBucket: v.GetString("STORAGE_GCS_BUCKET"),
	}

	maxFileSize := v.GetInt64("UPLOAD_MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 20 * 1024 * 1024
	}
	cfg.Uploads = UploadConfig{
		MaxFileSizeBytes: maxFileSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("UPLOAD_ALLOWED_MIME_TYPES")),
		MaxBulkFiles:     v.GetInt("UPLOAD_MAX_BULK_FILES"),
	}

	cfg.OCR = OCRConfig{
		APIKey:              v.GetString("OPENAI_API_KEY"),
		Model:               v.GetString("OCR_MODEL"),
		Endpoint:            v.GetString("OCR_ENDPOINT"),
		RequestTimeout:      parseDuration(v.GetString("OCR_REQUEST_TIMEOUT"), 60*time.Second),
		ConfidenceThreshold: v.GetFloat64("OCR_CONFIDENCE_THRESHOLD"),
		JobTimeout:          parseDuration(v.GetString("OCR_JOB_TIMEOUT"), 120*time.Second),
		WorkerConcurrency:   v.GetInt("OCR_WORKER_CONCURRENCY"),
		WorkerRetries:       v.GetInt("OCR_WORKER_RETRIES"),
		RequeueAfter:        parseDuration(v.GetString("OCR_REQUEUE_AFTER"), 10*time.Minute),
		RequeueInterval:     parseDuration(v.GetString("OCR_REQUEUE_INTERVAL"), 5*time.Minute),
	}

	cfg.Progress = ProgressConfig{
		PollInterval:  parseDuration(v.GetString("PROGRESS_POLL_INTERVAL"), time.Second),
		StreamTimeout: parseDuration(v.GetString("PROGRESS_STREAM_TIMEOUT"), 5*time.Minute),
		SnapshotTTL:   parseDuration(v.GetString("PROGRESS_SNAPSHOT_TTL"), 10*time.Second),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
		Requests: v.GetInt("RATE_LIMIT_REQUESTS"),
		Window:   parseDuration(v.GetString("RATE_LIMIT_WINDOW"), time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "rcbl_admin")
	v.SetDefault("DB_PASSWORD", "rcbl_secret")
	v.SetDefault("DB_NAME", "rcbl")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "insecure-dev-key-replace-in-production")
	v.SetDefault("JWT_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_BACKEND", "local")
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("STORAGE_GCS_BUCKET", "rcbl-invoices")

	v.SetDefault("UPLOAD_MAX_FILE_SIZE", 20*1024*1024)
	v.SetDefault("UPLOAD_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png,image/tiff")
	v.SetDefault("UPLOAD_MAX_BULK_FILES", 50)

	v.SetDefault("OPENAI_API_KEY", "sk-placeholder")
	v.SetDefault("OCR_MODEL", "gpt-4o")
	v.SetDefault("OCR_ENDPOINT", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("OCR_REQUEST_TIMEOUT", "60s")
	v.SetDefault("OCR_CONFIDENCE_THRESHOLD", 0.85)
	v.SetDefault("OCR_JOB_TIMEOUT", "120s")
	v.SetDefault("OCR_WORKER_CONCURRENCY", 4)
	v.SetDefault("OCR_WORKER_RETRIES", 3)
	v.SetDefault("OCR_REQUEUE_AFTER", "10m")
	v.SetDefault("OCR_REQUEUE_INTERVAL", "5m")

	v.SetDefault("PROGRESS_POLL_INTERVAL", "1s")
	v.SetDefault("PROGRESS_STREAM_TIMEOUT", "5m")
	v.SetDefault("PROGRESS_SNAPSHOT_TTL", "10s")

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_REQUESTS", 120)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
