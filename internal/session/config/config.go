package config

import "time"

type Config struct {
	BaseURL          string
	Username         string
	Password         string
	CallTimeout      time.Duration
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}
