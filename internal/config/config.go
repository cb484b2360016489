// Package config provides configuration for the platform server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Filesystem roots
	ProjectsRoot string
	AgentsRoot   string // user-created agent templates
	BuiltinRoot  string // builtin agent templates

	// Default endpoint for the stateful agent backend when a provider
	// has no base_url configured.
	AgentURL string

	// Credential encryption key (base64 fernet key); empty = plaintext dev mode
	EncryptionKey string

	// User-facing message locale
	Locale string

	// Chat settings
	HistoryLimit int

	// WebSocket settings
	MaxMessageSize int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:    getEnv("DATABASE_URL", "file:newhorse.db?cache=shared&mode=rwc"),
		ProjectsRoot:   getEnv("PROJECTS_ROOT", "data/projects"),
		AgentsRoot:     getEnv("AGENTS_ROOT", "data/agents"),
		BuiltinRoot:    getEnv("BUILTIN_AGENTS_ROOT", "extensions/agents"),
		AgentURL:       getEnv("AGENT_URL", "http://localhost:8086"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		Locale:         getEnv("LOCALE", "en"),
		HistoryLimit:   getEnvInt("HISTORY_LIMIT", 50),
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 120000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
