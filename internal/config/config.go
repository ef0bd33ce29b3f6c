// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds relational store settings. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // seconds
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	FilePrefix string
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret    string
	TokenTTLMins int
}

// AuditConfig holds ledger audit trail settings. Brokers empty disables the
// Kafka sink; the in-memory ring is always kept.
type AuditConfig struct {
	MaxEntries   int
	KafkaBrokers []string
	KafkaTopic   string
}

// Config aggregates all application settings.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Auth     AuthConfig
	Audit    AuditConfig
}

// Load reads configuration from environment variables, applying defaults for
// anything unset.
func Load() (*Config, error) {
	port, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: envString("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			Driver: envString("DATABASE_DRIVER", "postgres"),
			DSN:    os.Getenv("DATABASE_DSN"),
		},
		Logging: LoggingConfig{
			Level:      envString("LOG_LEVEL", "info"),
			Format:     envString("LOG_FORMAT", "text"),
			Output:     envString("LOG_OUTPUT", "stdout"),
			FilePrefix: os.Getenv("LOG_FILE_PREFIX"),
		},
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", "development-secret"),
		},
		Audit: AuditConfig{
			KafkaTopic: envString("AUDIT_KAFKA_TOPIC", "ledger_audit"),
		},
	}

	if cfg.Database.MaxOpenConns, err = envInt("DATABASE_MAX_OPEN_CONNS", 20); err != nil {
		return nil, err
	}
	if cfg.Database.MaxIdleConns, err = envInt("DATABASE_MAX_IDLE_CONNS", 5); err != nil {
		return nil, err
	}
	if cfg.Database.ConnMaxLifetime, err = envInt("DATABASE_CONN_MAX_LIFETIME", 300); err != nil {
		return nil, err
	}
	if cfg.Auth.TokenTTLMins, err = envInt("JWT_TTL_MINUTES", 60); err != nil {
		return nil, err
	}
	if cfg.Audit.MaxEntries, err = envInt("AUDIT_MAX_ENTRIES", 200); err != nil {
		return nil, err
	}
	if brokers := os.Getenv("AUDIT_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Audit.KafkaBrokers = append(cfg.Audit.KafkaBrokers, b)
			}
		}
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}
