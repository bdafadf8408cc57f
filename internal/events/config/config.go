package config

type Config struct {
	Brokers []string
	Topic   string
}
