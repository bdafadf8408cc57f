package config

type Config struct {
	DBPath string
}
