package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	APIToken    string `env:"API_TOKEN"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	AuthRequired    bool          `env:"AUTH_REQUIRED" default:"true"`
	AuthGracePeriod time.Duration `env:"AUTH_GRACE_PERIOD" default:"30s"`
	ClientTimeout   time.Duration `env:"CLIENT_TIMEOUT" default:"120s"`
	PingInterval    time.Duration `env:"PING_INTERVAL" default:"30s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" default:"60s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"32"`
	ConnectionRatePerIP     float64 `env:"CONNECTION_RATE_PER_IP" default:"5"`
	SendBufferSize          int     `env:"SEND_BUFFER_SIZE" default:"64"`

	TicketDefaultTTL time.Duration `env:"TICKET_DEFAULT_TTL" default:"5m"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
		"API_TOKEN":    cfg.APIToken,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if len(cfg.APIToken) < 16 {
		return fmt.Errorf("API_TOKEN must be at least 16 characters, got %d", len(cfg.APIToken))
	}

	if cfg.AuthGracePeriod <= 0 {
		return fmt.Errorf("AUTH_GRACE_PERIOD must be positive, got %v", cfg.AuthGracePeriod)
	}
	if cfg.ClientTimeout <= cfg.PingInterval {
		return fmt.Errorf("CLIENT_TIMEOUT (%v) must exceed PING_INTERVAL (%v)", cfg.ClientTimeout, cfg.PingInterval)
	}
	if cfg.SendBufferSize < 1 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be at least 1, got %d", cfg.SendBufferSize)
	}

	return nil
}
