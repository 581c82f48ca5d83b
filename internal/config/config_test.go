package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		AppEnv:                  "test",
		Port:                    "8080",
		DatabaseURL:             "postgres://localhost/beacon",
		RedisURL:                "redis://localhost:6379",
		APIToken:                "0123456789abcdef",
		AuthRequired:            true,
		AuthGracePeriod:         30 * time.Second,
		ClientTimeout:           2 * time.Minute,
		PingInterval:            30 * time.Second,
		SweepInterval:           time.Minute,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     8,
		ConnectionRatePerIP:     5,
		SendBufferSize:          64,
		TicketDefaultTTL:        5 * time.Minute,
	}
}

func TestValidate_Accepts(t *testing.T) {
	require.NoError(t, validate(validConfig()))
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL is required"},
		{"missing redis url", func(c *Config) { c.RedisURL = "" }, "REDIS_URL is required"},
		{"missing api token", func(c *Config) { c.APIToken = "" }, "API_TOKEN is required"},
		{"short api token", func(c *Config) { c.APIToken = "tooshort" }, "at least 16 characters"},
		{"zero grace period", func(c *Config) { c.AuthGracePeriod = 0 }, "AUTH_GRACE_PERIOD must be positive"},
		{"timeout below ping interval", func(c *Config) { c.ClientTimeout = 10 * time.Second }, "must exceed PING_INTERVAL"},
		{"zero send buffer", func(c *Config) { c.SendBufferSize = 0 }, "SEND_BUFFER_SIZE must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/beacon_test")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("API_TOKEN", "0123456789abcdef")
	t.Setenv("CLIENT_TIMEOUT", "90s")
	t.Setenv("MAX_CONNECTIONS_PER_IP", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/beacon_test", cfg.DatabaseURL)
	assert.Equal(t, 90*time.Second, cfg.ClientTimeout)
	assert.Equal(t, 4, cfg.MaxConnectionsPerIP)

	// Defaults fill everything not set explicitly.
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.AuthRequired)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 5*time.Minute, cfg.TicketDefaultTTL)
}
