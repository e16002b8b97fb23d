package config

import "time"

type Config struct {
	UpdateInterval    time.Duration
	InitialDelay      time.Duration
	FrequencyWindow   int
	HotColdWindow     int
	TopK              int
	PurchaseStatsDays int
}
