package publisher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"dhlotto/internal/model"
	"dhlotto/internal/publisher/config"
)

// Publisher выгружает показатели цикла во внешнюю панель
// (Home Assistant REST API states). Выгрузка best effort:
// ошибки логируются и не влияют на цикл
type Publisher interface {
	PublishCycle(ctx context.Context, balance model.BalanceSnapshot, stats model.StatisticsSnapshot)
}

type publisher struct {
	cfg        config.Config
	httpclient *resty.Client
	zaplog     *zap.Logger
}

func NewPublisher(cfg config.Config, zaplog *zap.Logger) Publisher {
	if cfg.Token == "" || cfg.BaseURL == "" {
		zaplog.Info("publisher disabled: no endpoint configured")
		return noop{}
	}

	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpclient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(cfg.Token)

	return &publisher{
		cfg:        cfg,
		httpclient: httpclient,
		zaplog:     zaplog,
	}
}

type sensorState struct {
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (publisher *publisher) PublishCycle(ctx context.Context, balance model.BalanceSnapshot, stats model.StatisticsSnapshot) {
	publisher.setState(ctx, "sensor.dhlotto_deposit", sensorState{
		State: balance.Deposit,
		Attributes: map[string]any{
			"unit_of_measurement": "KRW",
			"friendly_name":       "Lotto deposit",
			"purchase_available":  balance.PurchaseAvailable,
			"reserved":            balance.Reserved,
			"pending_withdrawal":  balance.PendingWithdrawal,
		},
	})

	topNumber := 0
	if len(stats.Frequency) > 0 {
		topNumber = stats.Frequency[0].Number
	}
	publisher.setState(ctx, "sensor.dhlotto_top_number", sensorState{
		State: topNumber,
		Attributes: map[string]any{
			"friendly_name": "Lotto most frequent number",
			"window":        stats.FrequencyWindow,
			"hot":           stats.Hot,
			"cold":          stats.Cold,
		},
	})

	publisher.setState(ctx, "sensor.dhlotto_total_won", sensorState{
		State: stats.Purchases.TotalWon,
		Attributes: map[string]any{
			"unit_of_measurement": "KRW",
			"friendly_name":       "Lotto total winnings",
			"total_spent":         stats.Purchases.TotalSpent,
			"win_rate":            stats.Purchases.WinRate,
			"roi":                 stats.Purchases.ROI,
		},
	})
}

func (publisher *publisher) setState(ctx context.Context, entityID string, state sensorState) {
	resp, err := publisher.httpclient.R().
		SetContext(ctx).
		SetBody(state).
		Post(fmt.Sprintf("/api/states/%s", entityID))
	if err != nil {
		publisher.zaplog.Warn("sensor publish failed",
			zap.String("entity", entityID), zap.Error(err))
		return
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		publisher.zaplog.Warn("sensor publish rejected",
			zap.String("entity", entityID),
			zap.Int("code", resp.StatusCode()))
	}
}

type noop struct{}

func (noop) PublishCycle(context.Context, model.BalanceSnapshot, model.StatisticsSnapshot) {}
