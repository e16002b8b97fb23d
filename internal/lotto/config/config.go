package config

type Config struct {
	GameURL string
}
