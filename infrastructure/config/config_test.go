package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("ENVIRONMENT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 170.0, cfg.CardSpacing)
	assert.Equal(t, 10*time.Second, cfg.RemoteTimeout)
	assert.Zero(t, cfg.ReconcileInterval)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 170.0, cfg.Domain().CardSpacing)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", StoreRedis)
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("REMOTE_TIMEOUT", "2500")
	t.Setenv("RECONCILE_INTERVAL", "45s")
	t.Setenv("CARD_SPACING", "220")
	t.Setenv("ENABLE_METRICS", "yes")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, 2500*time.Millisecond, cfg.RemoteTimeout)
	assert.Equal(t, 45*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 220.0, cfg.Domain().CardSpacing)
	assert.True(t, cfg.EnableMetrics)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.StoreBackend = "postgres" }, wantErr: true},
		{name: "dynamodb without table", mutate: func(c *Config) { c.StoreBackend = StoreDynamoDB; c.DynamoDBTable = "" }, wantErr: true},
		{name: "websocket without endpoint", mutate: func(c *Config) { c.EnableWebSocket = true }, wantErr: true},
		{name: "production memory store", mutate: func(c *Config) { c.Environment = "production"; c.JWTSecret = "s" }, wantErr: true},
		{name: "production without secret", mutate: func(c *Config) {
			c.Environment = "production"
			c.StoreBackend = StoreRedis
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Environment:   "development",
				StoreBackend:  StoreMemory,
				DynamoDBTable: "ailego",
				RedisURL:      "redis://localhost:6379",
				CardSpacing:   170,
				RemoteTimeout: time.Second,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
