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
	Ingest     IngestConfig
	Dedup      DedupConfig
	Indicators IndicatorsConfig
	Exports    ExportsConfig
	Catalog    CatalogConfig
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
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// IngestConfig tunes the CSV ingest pipeline.
type IngestConfig struct {
	RowLimit                 int
	EncodingFallback         string
	InstitutionEmailSuffixes []string
	AliasFile                string
	StorageDir               string
}

// DedupConfig tunes the duplicate detector and review queue.
type DedupConfig struct {
	ReviewThreshold   int
	BlockKeyLength    int
	WorkerConcurrency int
	WorkerRetries     int
}

// IndicatorsConfig governs cache behaviour for indicator queries.
type IndicatorsConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// ExportsConfig controls enriched CSV/PDF export storage and signed downloads.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// CatalogConfig tunes the controlled-vocabulary read cache.
type CatalogConfig struct {
	CacheTTL time.Duration
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
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Ingest = IngestConfig{
		RowLimit:                 v.GetInt("INGEST_ROW_LIMIT"),
		EncodingFallback:         v.GetString("INGEST_ENCODING_FALLBACK"),
		InstitutionEmailSuffixes: splitAndTrim(v.GetString("INSTITUTION_EMAIL_SUFFIXES")),
		AliasFile:                v.GetString("INGEST_ALIAS_FILE"),
		StorageDir:               v.GetString("INGEST_STORAGE_DIR"),
	}

	threshold := v.GetInt("REVIEW_THRESHOLD")
	if threshold <= 0 || threshold > 100 {
		threshold = 88
	}
	blockLen := v.GetInt("DEDUP_BLOCK_KEY_LENGTH")
	if blockLen <= 0 {
		blockLen = 4
	}
	cfg.Dedup = DedupConfig{
		ReviewThreshold:   threshold,
		BlockKeyLength:    blockLen,
		WorkerConcurrency: v.GetInt("DEDUP_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("DEDUP_WORKER_RETRIES"),
	}

	cfg.Indicators = IndicatorsConfig{
		Enabled:  v.GetBool("ENABLE_INDICATORS"),
		CacheTTL: parseDuration(v.GetString("INDICATORS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
	}

	cfg.Catalog = CatalogConfig{
		CacheTTL: parseDuration(v.GetString("CATALOG_CACHE_TTL"), 5*time.Minute),
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
	v.SetDefault("DB_NAME", "registro_vinculacion")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("INGEST_ROW_LIMIT", 5000)
	v.SetDefault("INGEST_ENCODING_FALLBACK", "latin1")
	v.SetDefault("INSTITUTION_EMAIL_SUFFIXES", "uni.cl")
	v.SetDefault("INGEST_ALIAS_FILE", "")
	v.SetDefault("INGEST_STORAGE_DIR", "./uploads")

	v.SetDefault("REVIEW_THRESHOLD", 88)
	v.SetDefault("DEDUP_BLOCK_KEY_LENGTH", 4)
	v.SetDefault("DEDUP_WORKER_CONCURRENCY", 1)
	v.SetDefault("DEDUP_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_INDICATORS", true)
	v.SetDefault("INDICATORS_CACHE_TTL", "10m")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")

	v.SetDefault("CATALOG_CACHE_TTL", "5m")
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
