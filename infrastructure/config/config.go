package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	domainconfig "ailego/domain/config"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StoreRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// Remote store
	StoreBackend     string
	AWSRegion        string
	DynamoDBTable    string
	DynamoDBEndpoint string
	RedisURL         string
	EventBusName     string
	EventSource      string
	// SchemaWriteBack stores upgraded legacy documents on read
	SchemaWriteBack bool

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string

	// WebSocket configuration
	WebSocketEndpoint string
	ConnectionsTable  string

	// Logging
	LogLevel string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Engine tuning
	CardSpacing       float64
	RemoteTimeout     time.Duration
	ReconcileInterval time.Duration
	SessionIdleTTL    time.Duration
	LoadConcurrency   int
	// TemplatesFile replaces the builtin pipeline templates when set
	TemplatesFile string

	// Rate limiting of write endpoints, per actor
	RateLimitBurst  int
	RateLimitRefill time.Duration

	// Circuit breaker around the remote store
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration

	// CORS origins of the editor frontends
	AllowedOrigins []string

	// Feature flags
	EnableMetrics   bool
	EnableTracing   bool
	EnableCORS      bool
	EnableEvents    bool
	EnableWebSocket bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		StoreBackend:     getEnv("STORE_BACKEND", StoreMemory),
		AWSRegion:        getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable:    getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "ailego")),
		DynamoDBEndpoint: getEnv("DYNAMODB_ENDPOINT", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		EventBusName:     getEnv("EVENT_BUS_NAME", "ailego-events"),
		EventSource:      getEnv("EVENT_SOURCE", "ailego.canvas"),
		SchemaWriteBack:  getEnvBool("SCHEMA_WRITE_BACK", true),

		// Lambda configuration
		IsLambda:           getEnvBool("IS_LAMBDA", false),
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),

		// WebSocket configuration
		WebSocketEndpoint: getEnv("WEBSOCKET_ENDPOINT", ""),
		ConnectionsTable:  getEnv("CONNECTIONS_TABLE", "ailego-connections"),

		// Authentication
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "ailego"),

		// Engine tuning
		CardSpacing:       getEnvFloat("CARD_SPACING", 170),
		RemoteTimeout:     getEnvDuration("REMOTE_TIMEOUT", 10*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 0),
		SessionIdleTTL:    getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		LoadConcurrency:   getEnvInt("LOAD_CONCURRENCY", 8),
		TemplatesFile:     getEnv("TEMPLATES_FILE", ""),

		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 120),
		RateLimitRefill: getEnvDuration("RATE_LIMIT_REFILL", 250*time.Millisecond),

		BreakerMaxRequests: uint32(getEnvInt("BREAKER_MAX_REQUESTS", 5)),
		BreakerInterval:    getEnvDuration("BREAKER_INTERVAL", 30*time.Second),
		BreakerTimeout:     getEnvDuration("BREAKER_TIMEOUT", 60*time.Second),

		AllowedOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),

		// Logging and features
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		EnableMetrics:   getEnvBool("ENABLE_METRICS", false),
		EnableTracing:   getEnvBool("ENABLE_TRACING", false),
		EnableCORS:      getEnvBool("ENABLE_CORS", true),
		EnableEvents:    getEnvBool("ENABLE_EVENTS", false),
		EnableWebSocket: getEnvBool("ENABLE_WEBSOCKET", false),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreDynamoDB, StoreRedis:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, dynamodb, redis; got %q", c.StoreBackend)
	}
	if c.StoreBackend == StoreDynamoDB && c.DynamoDBTable == "" {
		return fmt.Errorf("TABLE_NAME is required for the dynamodb backend")
	}
	if c.StoreBackend == StoreRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis backend")
	}
	if c.EnableEvents && c.EventBusName == "" {
		return fmt.Errorf("EVENT_BUS_NAME is required when events are enabled")
	}
	if c.EnableWebSocket && c.WebSocketEndpoint == "" {
		return fmt.Errorf("WEBSOCKET_ENDPOINT is required when websocket push is enabled")
	}
	if c.CardSpacing <= 0 {
		return fmt.Errorf("CARD_SPACING must be positive")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive")
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.StoreBackend == StoreMemory {
			return fmt.Errorf("the memory store backend is not allowed in production")
		}
	}

	return nil
}

// Domain returns the canvas rules with the configured overrides
func (c *Config) Domain() *domainconfig.DomainConfig {
	d := domainconfig.DefaultDomainConfig()
	d.CardSpacing = c.CardSpacing
	return d
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("5s") or plain milliseconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
