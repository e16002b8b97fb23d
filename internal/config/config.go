package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	handlerConfig "dhlotto/internal/handler/config"
	loggerConfig "dhlotto/internal/logger/config"
	lottoConfig "dhlotto/internal/lotto/config"
	publisherConfig "dhlotto/internal/publisher/config"
	serviceConfig "dhlotto/internal/service/config"
	sessionConfig "dhlotto/internal/session/config"
	storeConfig "dhlotto/internal/store/config"
)

type Config struct {
	Handler   handlerConfig.Config
	Session   sessionConfig.Config
	Lotto     lottoConfig.Config
	Service   serviceConfig.Config
	Store     storeConfig.Config
	Publisher publisherConfig.Config
	Logger    loggerConfig.Config
}

func GetConfig() Config {
	cfg := Config{
		Session: sessionConfig.Config{
			BaseURL:          "https://www.dhlottery.co.kr",
			CallTimeout:      30 * time.Second,
			RetryCount:       3,
			RetryWaitTime:    time.Second,
			RetryMaxWaitTime: 10 * time.Second,
			BreakerThreshold: 3,
			BreakerCooldown:  5 * time.Minute,
		},
		Service: serviceConfig.Config{
			UpdateInterval:    time.Hour,
			InitialDelay:      10 * time.Second,
			FrequencyWindow:   50,
			HotColdWindow:     20,
			TopK:              10,
			PurchaseStatsDays: 365,
		},
	}

	flag.StringVar(&cfg.Handler.ServerAddr, "a", ":8090", "server address")
	flag.StringVar(&cfg.Store.DBDsn, "d", "", "database dsn")
	flag.StringVar(&cfg.Logger.LogLevel, "l", "info", "log level")
	flag.Parse()

	if envAddr := os.Getenv("RUN_ADDRESS"); envAddr != "" {
		cfg.Handler.ServerAddr = envAddr
	}
	if envDSN := os.Getenv("DATABASE_DSN"); envDSN != "" {
		cfg.Store.DBDsn = envDSN
	}
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Logger.LogLevel = envLogLevel
	}

	cfg.Session.Username = os.Getenv("DH_USERNAME")
	cfg.Session.Password = os.Getenv("DH_PASSWORD")
	if envBaseURL := os.Getenv("DH_BASE_URL"); envBaseURL != "" {
		cfg.Session.BaseURL = envBaseURL
	}

	if envInterval := os.Getenv("UPDATE_INTERVAL"); envInterval != "" {
		if seconds, err := strconv.Atoi(envInterval); err == nil {
			cfg.Service.UpdateInterval = time.Duration(seconds) * time.Second
		}
	}
	// границы интервала: не душить оператора и не замирать на сутки+
	if cfg.Service.UpdateInterval < time.Minute {
		cfg.Service.UpdateInterval = time.Minute
	}
	if cfg.Service.UpdateInterval > 24*time.Hour {
		cfg.Service.UpdateInterval = 24 * time.Hour
	}

	cfg.Lotto.GameURL = os.Getenv("DH_GAME_URL")

	cfg.Publisher.BaseURL = os.Getenv("HA_URL")
	cfg.Publisher.Token = os.Getenv("SUPERVISOR_TOKEN")

	return cfg
}
