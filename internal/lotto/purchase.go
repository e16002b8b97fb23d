package lotto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dhlotto/internal/model"

	"go.uber.org/zap"
)

// Оркестратор покупки: локальные проверки до любого сетевого вызова,
// затем квота и баланс, затем отправка.

var (
	ErrPurchaseWindowClosed  = errors.New("purchase window closed")
	ErrPurchaseQuotaExceeded = errors.New("weekly purchase quota exceeded")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidSlots          = errors.New("invalid slots")
)

type Orchestrator struct {
	client Client
	zaplog *zap.Logger
	now    func() time.Time
}

func NewOrchestrator(client Client, zaplog *zap.Logger) *Orchestrator {
	return NewOrchestratorAt(client, zaplog, time.Now)
}

// NewOrchestratorAt - оркестратор с подменяемыми часами
func NewOrchestratorAt(client Client, zaplog *zap.Logger, now func() time.Time) *Orchestrator {
	return &Orchestrator{
		client: client,
		zaplog: zaplog,
		now:    now,
	}
}

// PurchaseWindowOpen: продажи каждый день 06:00-24:00,
// в субботу закрытие в 20:00 (перерыв до воскресенья 06:00)
func PurchaseWindowOpen(t time.Time) bool {
	if t.Hour() < 6 {
		return false
	}
	if t.Weekday() == time.Saturday && t.Hour() >= 20 {
		return false
	}
	return true
}

func (o *Orchestrator) Submit(ctx context.Context, slots []model.Slot) (model.PurchaseRecord, error) {
	// локальные проверки - без сети
	if !PurchaseWindowOpen(o.now()) {
		return model.PurchaseRecord{}, ErrPurchaseWindowClosed
	}
	if err := validateSlots(slots); err != nil {
		return model.PurchaseRecord{}, err
	}

	// квота недельного цикла - по журналу оператора, чтобы учесть
	// и покупки, сделанные вне этого процесса
	undrawn, err := o.client.WeeklyUndrawnCount(ctx)
	if err != nil {
		return model.PurchaseRecord{}, err
	}
	if undrawn+len(slots) > WeeklyQuota {
		return model.PurchaseRecord{}, fmt.Errorf("%w: %d confirmed, %d requested",
			ErrPurchaseQuotaExceeded, undrawn, len(slots))
	}

	balance, err := o.client.Balance(ctx)
	if err != nil {
		return model.PurchaseRecord{}, err
	}
	cost := int64(UnitPrice * len(slots))
	if balance.PurchaseAvailable < cost {
		return model.PurchaseRecord{}, fmt.Errorf("%w: need %d, available %d",
			ErrInsufficientBalance, cost, balance.PurchaseAvailable)
	}

	o.zaplog.Info("submitting purchase",
		zap.Int("games", len(slots)),
		zap.Int64("cost", cost),
	)
	return o.client.Buy(ctx, slots)
}

func validateSlots(slots []model.Slot) error {
	if len(slots) == 0 || len(slots) > MaxSlots {
		return fmt.Errorf("%w: slot count %d", ErrInvalidSlots, len(slots))
	}
	for i, slot := range slots {
		switch slot.Mode {
		case model.ModeAuto, model.ModeManual, model.ModeSemiAuto:
		default:
			return fmt.Errorf("%w: slot %d: unknown mode %q", ErrInvalidSlots, i+1, slot.Mode)
		}

		if slot.Mode == model.ModeAuto {
			if len(slot.Numbers) != 0 {
				return fmt.Errorf("%w: slot %d: auto slot carries numbers", ErrInvalidSlots, i+1)
			}
			continue
		}
		if slot.Mode == model.ModeManual && len(slot.Numbers) != 6 {
			return fmt.Errorf("%w: slot %d: manual slot needs 6 numbers", ErrInvalidSlots, i+1)
		}
		if len(slot.Numbers) > 6 {
			return fmt.Errorf("%w: slot %d: more than 6 numbers", ErrInvalidSlots, i+1)
		}

		seen := make(map[int]bool, len(slot.Numbers))
		for _, n := range slot.Numbers {
			if n < 1 || n > 45 {
				return fmt.Errorf("%w: slot %d: number %d out of range", ErrInvalidSlots, i+1, n)
			}
			if seen[n] {
				return fmt.Errorf("%w: slot %d: duplicate number %d", ErrInvalidSlots, i+1, n)
			}
			seen[n] = true
		}
	}
	return nil
}

// AutoSlots - n игр в полностью автоматическом режиме
func AutoSlots(n int) []model.Slot {
	slots := make([]model.Slot, 0, n)
	for i := 0; i < n; i++ {
		var label string
		if i < len(slotLabels) {
			label = string(slotLabels[i])
		}
		slots = append(slots, model.Slot{
			Label: label,
			Mode:  model.ModeAuto,
		})
	}
	return slots
}
