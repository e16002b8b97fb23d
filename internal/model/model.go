package model

import "time"

// Режимы выбора номеров в одном игровом слоте
// (значения genType формы execBuy: auto=0, manual=1, semi_auto=2)

type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeManual   Mode = "manual"
	ModeSemiAuto Mode = "semi_auto"
)

// Slot - одна игра внутри покупки (до 5 игр, метки A-E)
type Slot struct {
	Label   string `json:"label"`
	Mode    Mode   `json:"mode"`
	Numbers []int  `json:"numbers"`
}

// Тираж

type DrawRecord struct {
	Round    int       `json:"round"`
	Numbers  []int     `json:"numbers"`
	Bonus    int       `json:"bonus"`
	DrawDate time.Time `json:"draw_date"`
}

// Баланс депозита

type BalanceSnapshot struct {
	Deposit            int64 `json:"deposit"`
	PurchaseAvailable  int64 `json:"purchase_available"`
	Reserved           int64 `json:"reserved"`
	PendingWithdrawal  int64 `json:"pending_withdrawal"`
	MonthPurchaseTotal int64 `json:"month_purchase_total"`
}

// Покупка и ее расчет

const (
	// RankUnsettled - тираж покупки еще не разыгран
	RankUnsettled = -1
	// RankNone - приза нет
	RankNone = 0
)

type PurchaseRecord struct {
	ID          string    `json:"id"`
	Round       int       `json:"round"`
	Slots       []Slot    `json:"slots"`
	Barcode     string    `json:"barcode"`
	SubmittedAt time.Time `json:"submitted_at"`
	Rank        int       `json:"rank"`
}

func (p PurchaseRecord) Settled() bool {
	return p.Rank != RankUnsettled
}

// LedgerRow - строка журнала покупок пользователя на стороне оператора.
// Количественные поля приходят как null на нерассчитанных строках,
// поэтому указатели: nil трактуется как ноль.
type LedgerRow struct {
	Round     int    `json:"round"`
	Quantity  *int   `json:"quantity"`
	WonAmount *int64 `json:"won_amount"`
	Result    string `json:"result"`
	OrderNo   string `json:"order_no"`
	Barcode   string `json:"barcode"`
}

// Статистика

type NumberFrequency struct {
	Number     int     `json:"number"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type PurchaseAggregate struct {
	TotalPurchased   int         `json:"total_purchased"`
	TotalSpent       int64       `json:"total_spent"`
	TotalWon         int64       `json:"total_won"`
	WinCount         int         `json:"win_count"`
	WinRate          float64     `json:"win_rate"`
	ROI              float64     `json:"roi"`
	RankDistribution map[int]int `json:"rank_distribution"`
}

type StatisticsSnapshot struct {
	Frequency       []NumberFrequency `json:"frequency"`
	FrequencyWindow int               `json:"frequency_window"`
	Hot             []int             `json:"hot"`
	Cold            []int             `json:"cold"`
	HotColdWindow   int               `json:"hot_cold_window"`
	Purchases       PurchaseAggregate `json:"purchases"`
	ComputedAt      time.Time         `json:"computed_at"`
}

// Проверка выигрыша

type WinCheckResult struct {
	Round          int   `json:"round"`
	Played         []int `json:"played"`
	WinningNumbers []int `json:"winning_numbers"`
	Bonus          int   `json:"bonus"`
	MatchCount     int   `json:"match_count"`
	BonusMatched   bool  `json:"bonus_matched"`
	Rank           int   `json:"rank"`
}
