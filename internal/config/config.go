package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Tagging   TaggingConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	BaseURL    string
	ServiceKey string
	Bucket     string
}

type EmbeddingConfig struct {
	OpenAIKey string
	Model     string
	Dimension int
}

type TaggingConfig struct {
	AnthropicKey string
	Model        string
	MaxTags      int
}

type PipelineConfig struct {
	StallTimeout   time.Duration
	RecoveryCron   string // cron spec for the periodic recovery scan
	ThumbnailStyle string // thumbnail style key the analysis stages read
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	embeddingDim, err := getEnvInt("EMBEDDING_DIMENSION", 512)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDING_DIMENSION: %w", err)
	}

	maxTags, err := getEnvInt("TAGGING_MAX_TAGS", 12)
	if err != nil {
		return nil, fmt.Errorf("invalid TAGGING_MAX_TAGS: %w", err)
	}

	stallMinutes, err := getEnvInt("PIPELINE_STALL_TIMEOUT_MINUTES", 30)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_STALL_TIMEOUT_MINUTES: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Storage: StorageConfig{
			BaseURL:    getEnv("STORAGE_BASE_URL", ""),
			ServiceKey: getEnv("STORAGE_SERVICE_KEY", ""),
			Bucket:     getEnv("STORAGE_BUCKET", "assets"),
		},
		Embedding: EmbeddingConfig{
			OpenAIKey: getEnv("OPENAI_API_KEY", ""),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: embeddingDim,
		},
		Tagging: TaggingConfig{
			AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
			Model:        getEnv("TAGGING_MODEL", "claude-3-haiku-20240307"),
			MaxTags:      maxTags,
		},
		Pipeline: PipelineConfig{
			StallTimeout:   time.Duration(stallMinutes) * time.Minute,
			RecoveryCron:   getEnv("RECOVERY_SCAN_CRON", "*/10 * * * *"),
			ThumbnailStyle: getEnv("THUMBNAIL_STYLE", "medium"),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Storage.BaseURL == "" {
		missing = append(missing, "STORAGE_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
