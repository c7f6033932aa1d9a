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

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Storage    StorageConfig
	Generation GenerationConfig
	Jobs       JobsConfig
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

// StorageConfig governs on-disk blob locations and signed downloads.
// LegacyDir is consulted read-only when a template background is missing
// from PrimaryDir (files uploaded before the storage consolidation).
type StorageConfig struct {
	PrimaryDir      string
	LegacyDir       string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// GenerationConfig tunes the certificate pipeline. Batch size is a
// latency lever, not a correctness one: smaller batches keep progress
// flowing under the deployment's request-duration ceiling.
type GenerationConfig struct {
	BatchSize        int
	StreamBatchSize  int
	TemplateCacheTTL time.Duration
	LayoutCacheTTL   time.Duration
	QRSizePixels     int
	PageWidthPt      float64
	PageHeightPt     float64
}

// JobsConfig configures the asynchronous generation queue.
type JobsConfig struct {
	Enabled           bool
	WorkerConcurrency int
	WorkerRetries     int
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
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		PrimaryDir:      v.GetString("STORAGE_DIR"),
		LegacyDir:       v.GetString("STORAGE_LEGACY_DIR"),
		SignedURLSecret: v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.Generation = GenerationConfig{
		BatchSize:        v.GetInt("GENERATION_BATCH_SIZE"),
		StreamBatchSize:  v.GetInt("GENERATION_STREAM_BATCH_SIZE"),
		TemplateCacheTTL: parseDuration(v.GetString("TEMPLATE_CACHE_TTL"), 5*time.Minute),
		LayoutCacheTTL:   parseDuration(v.GetString("LAYOUT_CACHE_TTL"), 10*time.Minute),
		QRSizePixels:     v.GetInt("QR_SIZE_PIXELS"),
		PageWidthPt:      v.GetFloat64("PAGE_WIDTH_PT"),
		PageHeightPt:     v.GetFloat64("PAGE_HEIGHT_PT"),
	}

	cfg.Jobs = JobsConfig{
		Enabled:           v.GetBool("ENABLE_ASYNC_GENERATION"),
		WorkerConcurrency: v.GetInt("JOBS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("JOBS_WORKER_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "certify")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DIR", "./storage/certificates")
	v.SetDefault("STORAGE_LEGACY_DIR", "./storage/templates")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "30m")

	v.SetDefault("GENERATION_BATCH_SIZE", 25)
	v.SetDefault("GENERATION_STREAM_BATCH_SIZE", 2)
	v.SetDefault("TEMPLATE_CACHE_TTL", "5m")
	v.SetDefault("LAYOUT_CACHE_TTL", "10m")
	v.SetDefault("QR_SIZE_PIXELS", 256)

	// A4 landscape, matching the stock certificate background.
	v.SetDefault("PAGE_WIDTH_PT", 842)
	v.SetDefault("PAGE_HEIGHT_PT", 595)

	v.SetDefault("ENABLE_ASYNC_GENERATION", false)
	v.SetDefault("JOBS_WORKER_CONCURRENCY", 1)
	v.SetDefault("JOBS_WORKER_RETRIES", 1)
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
