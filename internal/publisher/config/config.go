package config

import "time"

type Config struct {
	BaseURL     string
	Token       string
	CallTimeout time.Duration
}
