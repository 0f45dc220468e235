package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoadConfigFromEnv builds a Config from DATABASE_* environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:            getEnv("DATABASE_HOST", "localhost"),
		User:            getEnv("DATABASE_USER", "atelier"),
		Password:        getEnv("DATABASE_PASSWORD", ""),
		Database:        getEnv("DATABASE_NAME", "atelier"),
		SSLMode:         getEnv("DATABASE_SSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}

	port := getEnvInt("DATABASE_PORT", 5432)
	cfg.Port = port

	if cfg.Password == "" {
		return Config{}, fmt.Errorf("DATABASE_PASSWORD must be set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
