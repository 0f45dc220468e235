// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultChunkSize is the fixed chunk size for chunked uploads (10 MiB).
	DefaultChunkSize = 10 * 1024 * 1024

	// DefaultMaxSimpleUpload is the size cap for the simple upload endpoint (50 MiB).
	DefaultMaxSimpleUpload = 50 * 1024 * 1024
)

// Config holds all runtime settings for the server.
type Config struct {
	HTTPPort string
	LogLevel string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Filesystem layout
	WorkspacesDir     string
	SkillsPendingDir  string
	SkillsApprovedDir string
	SkillImagesDir    string

	// Sandbox runtime
	SandboxImage string
	ExecTimeout  time.Duration

	// LLM
	AnthropicAPIKey string
	BigModel        string
	FlashModel      string

	// Validation pipeline
	MaxConcurrentRegression int64

	// Uploads
	ChunkSize       int64
	MaxSimpleUpload int64
	UploadTTL       time.Duration
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:                getEnv("HTTP_PORT", "8080"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		JWTSecret:               getEnv("JWT_SECRET", ""),
		TokenTTL:                getEnvDuration("TOKEN_TTL", 24*time.Hour),
		WorkspacesDir:           getEnv("WORKSPACES_DIR", "./workspaces"),
		SkillsPendingDir:        getEnv("SKILLS_PENDING_DIR", "./skills_pending"),
		SkillsApprovedDir:       getEnv("SKILLS_APPROVED_DIR", "./shared/skills"),
		SkillImagesDir:          getEnv("SKILL_IMAGES_DIR", "./skill_images"),
		SandboxImage:            getEnv("SANDBOX_IMAGE", "atelier-sandbox:latest"),
		ExecTimeout:             getEnvDuration("EXEC_TIMEOUT", 300*time.Second),
		AnthropicAPIKey:         getEnv("ANTHROPIC_API_KEY", ""),
		BigModel:                getEnv("BIG_MODEL", "claude-sonnet-4-20250514"),
		FlashModel:              getEnv("FLASH_MODEL", "claude-3-5-haiku-20241022"),
		MaxConcurrentRegression: getEnvInt64("MAX_CONCURRENT_REGRESSION", 5),
		ChunkSize:               getEnvInt64("CHUNK_SIZE", DefaultChunkSize),
		MaxSimpleUpload:         getEnvInt64("MAX_SIMPLE_UPLOAD", DefaultMaxSimpleUpload),
		UploadTTL:               getEnvDuration("UPLOAD_TTL", 24*time.Hour),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
