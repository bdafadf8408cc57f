package config

type Config struct {
	TokenSecret string
}
