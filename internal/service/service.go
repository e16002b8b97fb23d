package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dhlotto/internal/analyzer"
	"dhlotto/internal/lotto"
	"dhlotto/internal/model"
	"dhlotto/internal/publisher"
	"dhlotto/internal/service/config"
	"dhlotto/internal/session"
	"dhlotto/internal/store"

	"go.uber.org/zap"
)

type Service interface {
	// RunCycle - один цикл опроса: баланс, новые тиражи,
	// расчет покупок, статистика, публикация
	RunCycle(ctx context.Context) error

	Balance(ctx context.Context) (model.BalanceSnapshot, error)
	LatestDraw(ctx context.Context) (model.DrawRecord, error)
	Statistics(ctx context.Context) (model.StatisticsSnapshot, error)
	PurchaseAuto(ctx context.Context, count int) (model.PurchaseRecord, error)
	PurchaseNumbers(ctx context.Context, slots []model.Slot) (model.PurchaseRecord, error)
	PurchaseHistory(ctx context.Context) ([]model.PurchaseRecord, error)
	CheckWin(ctx context.Context, numbers []int, round int) (model.WinCheckResult, error)
	RandomGames(count, games int) ([][]int, error)
	SessionState() session.State
}

var ErrInsufficientData = errors.New("insufficient data")

type service struct {
	cfg    config.Config
	sess   session.Session
	client lotto.Client
	orch   *lotto.Orchestrator
	store  store.Store
	pub    publisher.Publisher
	zaplog *zap.Logger
	now    func() time.Time
}

func NewService(cfg config.Config, sess session.Session, client lotto.Client,
	st store.Store, pub publisher.Publisher, zaplog *zap.Logger) Service {
	return &service{
		cfg:    cfg,
		sess:   sess,
		client: client,
		orch:   lotto.NewOrchestrator(client, zaplog),
		store:  st,
		pub:    pub,
		zaplog: zaplog,
		now:    time.Now,
	}
}

func (service *service) RunCycle(ctx context.Context) error {
	balance, err := service.client.Balance(ctx)
	if err != nil {
		return fmt.Errorf("cycle balance: %w", err)
	}

	if err := service.syncDraws(ctx); err != nil {
		return fmt.Errorf("cycle draw sync: %w", err)
	}

	// расчет покупок best effort: неудача не роняет цикл
	if err := service.settlePurchases(ctx); err != nil {
		service.zaplog.Warn("purchase settlement failed", zap.Error(err))
	}

	stats, err := service.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("cycle statistics: %w", err)
	}

	service.pub.PublishCycle(ctx, balance, stats)
	return nil
}

// syncDraws дотягивает недостающие тиражи в хранилище,
// не дальше окна частотного анализа
func (service *service) syncDraws(ctx context.Context) error {
	latest, err := service.client.RoundInfo(ctx, 0)
	if err != nil {
		return err
	}

	storedRound := 0
	stored, err := service.store.DrawGetLatest(ctx)
	switch {
	case err == nil:
		storedRound = stored.Round
	case errors.Is(err, store.ErrNoRows):
	default:
		return err
	}

	// порядок прихода данных формально не гарантирован
	if latest.Round < storedRound {
		service.zaplog.Warn("draw ordering anomaly: upstream behind store",
			zap.Int("upstream_round", latest.Round),
			zap.Int("stored_round", storedRound),
		)
		return nil
	}
	if latest.Round == storedRound {
		return nil
	}

	from := latest.Round - service.cfg.FrequencyWindow + 1
	if from < 1 {
		from = 1
	}
	if from <= storedRound {
		from = storedRound + 1
	}

	for round := from; round < latest.Round; round++ {
		draw, err := service.client.RoundInfo(ctx, round)
		if err != nil {
			service.zaplog.Warn("round backfill failed",
				zap.Int("round", round), zap.Error(err))
			continue
		}
		if err := service.store.DrawPost(ctx, draw); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return err
		}
	}
	if err := service.store.DrawPost(ctx, latest); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}

	service.zaplog.Info("draws synced",
		zap.Int("latest_round", latest.Round),
		zap.Int("previous_stored", storedRound),
	)
	return nil
}

func (service *service) settlePurchases(ctx context.Context) error {
	unsettled, err := service.store.PurchaseGetUnsettled(ctx)
	if err != nil {
		return err
	}
	if len(unsettled) == 0 {
		return nil
	}

	latestRound := 0
	if latest, err := service.store.DrawGetLatest(ctx); err == nil {
		latestRound = latest.Round
	}

	for _, purchase := range unsettled {
		draw, err := service.store.DrawGet(ctx, purchase.Round)
		if errors.Is(err, store.ErrNoRows) {
			if purchase.Round <= latestRound {
				// тираж уже должен быть известен, но строки нет
				service.zaplog.Warn("settlement anomaly: draw missing for settled-range purchase",
					zap.String("purchase_id", purchase.ID),
					zap.Int("round", purchase.Round),
					zap.Int("latest_round", latestRound),
				)
			}
			continue
		}
		if err != nil {
			return err
		}

		rank := bestSlotRank(purchase.Slots, draw)
		if err := service.store.PurchaseSettle(ctx, purchase.ID, rank); err != nil {
			return err
		}
		service.zaplog.Info("purchase settled",
			zap.String("purchase_id", purchase.ID),
			zap.Int("round", purchase.Round),
			zap.Int("rank", rank),
		)
	}
	return nil
}

// bestSlotRank - лучший (наименьший ненулевой) ранг среди слотов билета
func bestSlotRank(slots []model.Slot, draw model.DrawRecord) int {
	best := model.RankNone
	for _, slot := range slots {
		if len(slot.Numbers) != 6 {
			continue
		}
		result, err := analyzer.CheckWin(slot.Numbers, draw)
		if err != nil {
			continue
		}
		if result.Rank == model.RankNone {
			continue
		}
		if best == model.RankNone || result.Rank < best {
			best = result.Rank
		}
	}
	return best
}

func (service *service) Balance(ctx context.Context) (model.BalanceSnapshot, error) {
	return service.client.Balance(ctx)
}

func (service *service) LatestDraw(ctx context.Context) (model.DrawRecord, error) {
	draw, err := service.store.DrawGetLatest(ctx)
	if err == nil {
		return draw, nil
	}
	if !errors.Is(err, store.ErrNoRows) {
		return model.DrawRecord{}, err
	}
	return service.client.RoundInfo(ctx, 0)
}

func (service *service) Statistics(ctx context.Context) (model.StatisticsSnapshot, error) {
	draws, err := service.store.DrawGetRecent(ctx, service.cfg.FrequencyWindow)
	if err != nil {
		return model.StatisticsSnapshot{}, err
	}

	frequency := analyzer.Frequency(draws, service.cfg.FrequencyWindow)
	hot, cold := analyzer.HotCold(draws, service.cfg.HotColdWindow, service.cfg.TopK)

	to := service.now()
	rows, err := service.client.Ledger(ctx, to.AddDate(0, 0, -service.cfg.PurchaseStatsDays), to)
	if err != nil {
		return model.StatisticsSnapshot{}, err
	}

	return model.StatisticsSnapshot{
		Frequency:       frequency,
		FrequencyWindow: service.cfg.FrequencyWindow,
		Hot:             hot,
		Cold:            cold,
		HotColdWindow:   service.cfg.HotColdWindow,
		Purchases:       analyzer.PurchaseStats(rows),
		ComputedAt:      to,
	}, nil
}

func (service *service) PurchaseAuto(ctx context.Context, count int) (model.PurchaseRecord, error) {
	if count < 1 || count > lotto.MaxSlots {
		return model.PurchaseRecord{}, fmt.Errorf("%w: count %d", ErrInsufficientData, count)
	}
	return service.submit(ctx, lotto.AutoSlots(count))
}

func (service *service) PurchaseNumbers(ctx context.Context, slots []model.Slot) (model.PurchaseRecord, error) {
	if len(slots) == 0 {
		return model.PurchaseRecord{}, fmt.Errorf("%w: no slots", ErrInsufficientData)
	}
	return service.submit(ctx, slots)
}

func (service *service) submit(ctx context.Context, slots []model.Slot) (model.PurchaseRecord, error) {
	record, err := service.orch.Submit(ctx, slots)
	if err != nil {
		return model.PurchaseRecord{}, err
	}

	// покупка у оператора уже состоялась: сбой локальной записи
	// не должен превратить успех в ошибку
	if err := service.store.PurchasePost(ctx, record); err != nil {
		service.zaplog.Error("failed to persist purchase record",
			zap.String("purchase_id", record.ID), zap.Error(err))
	}
	return record, nil
}

// PurchaseHistory - билеты текущего недельного цикла из журнала
// оператора. Журнал рангов не знает, поэтому билеты, купленные этим
// процессом, обогащаются локально рассчитанными рангами по штрихкоду
func (service *service) PurchaseHistory(ctx context.Context) ([]model.PurchaseRecord, error) {
	records, err := service.client.BuyHistory(ctx)
	if err != nil {
		return nil, err
	}

	local, err := service.store.PurchaseGetSince(ctx, service.now().AddDate(0, 0, -7))
	if err != nil {
		service.zaplog.Warn("local purchase lookup failed", zap.Error(err))
		return records, nil
	}

	byBarcode := make(map[string]model.PurchaseRecord, len(local))
	for _, purchase := range local {
		byBarcode[purchase.Barcode] = purchase
	}
	for i, record := range records {
		if purchase, ok := byBarcode[record.Barcode]; ok {
			records[i].ID = purchase.ID
			records[i].SubmittedAt = purchase.SubmittedAt
			records[i].Rank = purchase.Rank
		}
	}
	return records, nil
}

func (service *service) CheckWin(ctx context.Context, numbers []int, round int) (model.WinCheckResult, error) {
	var draw model.DrawRecord
	var err error

	if round <= 0 {
		draw, err = service.LatestDraw(ctx)
	} else {
		draw, err = service.store.DrawGet(ctx, round)
		if errors.Is(err, store.ErrNoRows) {
			draw, err = service.client.RoundInfo(ctx, round)
			if err == nil {
				if perr := service.store.DrawPost(ctx, draw); perr != nil && !errors.Is(perr, store.ErrAlreadyExists) {
					service.zaplog.Warn("failed to cache draw", zap.Error(perr))
				}
			}
		}
	}
	if err != nil {
		return model.WinCheckResult{}, err
	}

	return analyzer.CheckWin(numbers, draw)
}

func (service *service) RandomGames(count, games int) ([][]int, error) {
	if games < 1 || games > lotto.MaxSlots {
		return nil, fmt.Errorf("%w: games %d", ErrInsufficientData, games)
	}

	result := make([][]int, 0, games)
	for i := 0; i < games; i++ {
		numbers, err := analyzer.RandomNumbers(count)
		if err != nil {
			return nil, err
		}
		result = append(result, numbers)
	}
	return result, nil
}

func (service *service) SessionState() session.State {
	return service.sess.State()
}
