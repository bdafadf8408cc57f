package config

import (
	"os"
	"strings"
	"time"

	authConfig "github.com/rojaria/smartcart/internal/auth/config"
	eventsConfig "github.com/rojaria/smartcart/internal/events/config"
	gatewayConfig "github.com/rojaria/smartcart/internal/gateway/config"
	handlerConfig "github.com/rojaria/smartcart/internal/handler/config"
	ledgerConfig "github.com/rojaria/smartcart/internal/ledger/config"
	loggerConfig "github.com/rojaria/smartcart/internal/logger/config"
	stateConfig "github.com/rojaria/smartcart/internal/state/config"
)

type Config struct {
	Handler handlerConfig.Config
	Logger  loggerConfig.Config
	Ledger  ledgerConfig.Config
	State   stateConfig.Config
	Gateway gatewayConfig.Config
	Events  eventsConfig.Config
	Auth    authConfig.Config
}

func GetConfig() Config {
	return Config{
		Handler: handlerConfig.Config{
			ServerAddr:  envOr("RUN_ADDRESS", ":8080"),
			CORSOrigins: splitList(envOr("CORS_ORIGINS", "*")),
		},
		Logger: loggerConfig.Config{
			LogLevel: envOr("LOG_LEVEL", "info"),
		},
		Ledger: ledgerConfig.Config{
			DBDsn: os.Getenv("DATABASE_DSN"),
		},
		State: stateConfig.Config{
			DBPath: envOr("STATE_DB_PATH", "smartcart.db"),
		},
		Gateway: gatewayConfig.Config{
			BaseURL:   envOr("TOSS_BASE_URL", "https://api.tosspayments.com"),
			SecretKey: os.Getenv("TOSS_SECRET_KEY"),
			Timeout:   30 * time.Second,
		},
		Events: eventsConfig.Config{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("KAFKA_TOPIC", "payment_events"),
		},
		Auth: authConfig.Config{
			TokenSecret: envOr("TOKEN_SECRET", "smartcart-dev-secret"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
