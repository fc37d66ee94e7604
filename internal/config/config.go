// Package config provides environment configuration for the client and the development backend.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the streaming client.
type Config struct {
	// Remote API
	APIBaseURL     string
	APIToken       string
	RequestTimeout time.Duration
	RequestsPerSec float64
	RequestBurst   int

	// Development token minting, used when APIToken is empty
	DevJWTSecret string
	DevUserID    string
	DevTokenTTL  time.Duration

	// Job telemetry
	NATSURL      string
	NATSToken    string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// ServerConfig holds configuration for the development backend.
type ServerConfig struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// JWT settings
	JWTSecret string

	// Catalog paging
	PageSize   int
	TotalPages int
	EventDelay time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultModel    string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// NATS, reported by /ready when set
	NATSURL   string
	NATSToken string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// LoadDotEnv loads a .env file into the process environment if present.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads client configuration from environment variables.
func Load() *Config {
	return &Config{
		APIBaseURL:     getEnv("CONTHUNT_API_URL", "http://localhost:8080"),
		APIToken:       getEnv("CONTHUNT_API_TOKEN", ""),
		RequestTimeout: getDurationEnv("CONTHUNT_REQUEST_TIMEOUT", 30*time.Second),
		RequestsPerSec: getFloatEnv("CONTHUNT_REQUESTS_PER_SECOND", 10),
		RequestBurst:   getIntEnv("CONTHUNT_REQUEST_BURST", 5),

		DevJWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),
		DevUserID:    getEnv("CONTHUNT_DEV_USER", "dev-user"),
		DevTokenTTL:  getDurationEnv("CONTHUNT_DEV_TOKEN_TTL", 15*time.Minute),

		NATSURL:      getEnv("NATS_URL", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),

		LogLevel: getEnv("LOG_LEVEL", "warn"),

		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// LoadServer reads development backend configuration from environment variables.
func LoadServer() *ServerConfig {
	return &ServerConfig{
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),

		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		PageSize:   getIntEnv("MOCK_PAGE_SIZE", 6),
		TotalPages: getIntEnv("MOCK_TOTAL_PAGES", 3),
		EventDelay: getDurationEnv("MOCK_EVENT_DELAY", 150*time.Millisecond),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultModel:    getEnv("DEFAULT_MODEL", ""),

		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		NATSURL:   getEnv("NATS_URL", ""),
		NATSToken: getEnv("NATS_TOKEN", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
