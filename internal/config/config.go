// Package config provides environment configuration for the web server.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Application data directory (database, model cache files)
	AppDir string

	// Session settings
	SessionSecret string
	SessionTTL    time.Duration

	// LLM settings
	Provider         string
	GeminiAPIKeys    []string
	AnthropicAPIKeys []string
	DefaultModel     string
	SystemPrompt     string
	HistoryLimit     int
	LLMTimeout       time.Duration
	ProbeTimeout     time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Data directory
		AppDir: getEnv("APP_DIR", defaultAppDir()),

		// Sessions
		SessionSecret: getEnv("SESSION_SECRET", "development-secret-change-in-production"),
		SessionTTL:    getDurationEnv("SESSION_TTL", 7*24*time.Hour),

		// LLM
		Provider:         getEnv("LLM_PROVIDER", "gemini"),
		GeminiAPIKeys:    getListEnv("GEMINI_API_KEYS"),
		AnthropicAPIKeys: getListEnv("ANTHROPIC_API_KEYS"),
		DefaultModel:     getEnv("DEFAULT_MODEL", "gemini-2.5-flash"),
		SystemPrompt:     getEnv("SYSTEM_PROMPT", "You are a helpful assistant. Answer in the language the user writes in."),
		HistoryLimit:     getIntEnv("HISTORY_LIMIT", 50),
		LLMTimeout:       getDurationEnv("LLM_TIMEOUT", 90*time.Second),
		ProbeTimeout:     getDurationEnv("PROBE_TIMEOUT", 15*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// APIKeys returns the key list for the configured provider.
func (c *Config) APIKeys() []string {
	if c.Provider == "anthropic" {
		return c.AnthropicAPIKeys
	}
	return c.GeminiAPIKeys
}

func defaultAppDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "GeminiChat"
	}
	return filepath.Join(home, "GeminiChat")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
