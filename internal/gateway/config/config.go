package config

import "time"

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}
