package analyzer

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"dhlotto/internal/lotto"
	"dhlotto/internal/model"
)

// Чистые вычисления над уже полученными данными: частоты номеров,
// hot/cold, статистика покупок, проверка выигрыша. Состояния нет,
// можно звать параллельно с чем угодно.

const (
	DefaultFrequencyWindow = 50
	DefaultHotColdWindow   = 20
	DefaultTopK            = 10
	DefaultPurchaseWindow  = 365 * 24 * time.Hour
)

var ErrInvalidNumbers = errors.New("invalid numbers")

// Frequency считает выпадения каждого номера 1-45 по последним
// window тиражам (бонусный номер не учитывается). Сортировка по
// убыванию счетчика, при равенстве - по возрастанию номера.
func Frequency(draws []model.DrawRecord, window int) []model.NumberFrequency {
	if window <= 0 {
		window = DefaultFrequencyWindow
	}
	recent := lastDraws(draws, window)

	counts := make(map[int]int, 45)
	for _, draw := range recent {
		for _, n := range draw.Numbers {
			counts[n]++
		}
	}

	totalDraws := len(recent)
	frequencies := make([]model.NumberFrequency, 0, 45)
	for number := 1; number <= 45; number++ {
		count := counts[number]
		var percentage float64
		if totalDraws > 0 {
			percentage = float64(count) / float64(totalDraws) * 100
		}
		frequencies = append(frequencies, model.NumberFrequency{
			Number:     number,
			Count:      count,
			Percentage: percentage,
		})
	}

	sort.SliceStable(frequencies, func(i, j int) bool {
		if frequencies[i].Count != frequencies[j].Count {
			return frequencies[i].Count > frequencies[j].Count
		}
		return frequencies[i].Number < frequencies[j].Number
	})
	return frequencies
}

// HotCold - top-k и bottom-k номеров по короткому окну.
// Равные счетчики разрешаются возрастанием номера, результат
// детерминирован на одинаковом входе.
func HotCold(draws []model.DrawRecord, window, k int) (hot, cold []int) {
	if window <= 0 {
		window = DefaultHotColdWindow
	}
	if k <= 0 {
		k = DefaultTopK
	}

	frequencies := Frequency(draws, window)

	hot = make([]int, 0, k)
	for i := 0; i < k && i < len(frequencies); i++ {
		hot = append(hot, frequencies[i].Number)
	}

	coldSorted := append([]model.NumberFrequency(nil), frequencies...)
	sort.SliceStable(coldSorted, func(i, j int) bool {
		if coldSorted[i].Count != coldSorted[j].Count {
			return coldSorted[i].Count < coldSorted[j].Count
		}
		return coldSorted[i].Number < coldSorted[j].Number
	})
	cold = make([]int, 0, k)
	for i := 0; i < k && i < len(coldSorted); i++ {
		cold = append(cold, coldSorted[i].Number)
	}
	return hot, cold
}

// lastDraws - последние window тиражей по номеру раунда
func lastDraws(draws []model.DrawRecord, window int) []model.DrawRecord {
	sorted := append([]model.DrawRecord(nil), draws...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Round > sorted[j].Round })
	if len(sorted) > window {
		sorted = sorted[:window]
	}
	return sorted
}

// PurchaseStats агрегирует журнал покупок. Скользящее окно задается
// датами запроса журнала. Отсутствующие количественные поля (null у
// оператора) считаются нулями: это осознанная нормализация, а не
// потеря данных.
func PurchaseStats(rows []model.LedgerRow) model.PurchaseAggregate {
	agg := model.PurchaseAggregate{
		RankDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	}

	for _, row := range rows {
		quantity := 0
		if row.Quantity != nil {
			quantity = *row.Quantity
		}
		agg.TotalPurchased += quantity

		var won int64
		if row.WonAmount != nil {
			won = *row.WonAmount
		}
		if won > 0 {
			agg.WinCount++
			agg.TotalWon += won
			agg.RankDistribution[estimateRank(won)]++
		}
	}

	agg.TotalSpent = int64(agg.TotalPurchased) * lotto.UnitPrice
	if agg.TotalPurchased > 0 {
		agg.WinRate = float64(agg.WinCount) / float64(agg.TotalPurchased) * 100
	}
	if agg.TotalSpent > 0 {
		agg.ROI = float64(agg.TotalWon-agg.TotalSpent) / float64(agg.TotalSpent) * 100
	}
	return agg
}

// estimateRank - ранг по порядку величины выигрыша: журнал оператора
// сам ранг не отдает
func estimateRank(won int64) int {
	switch {
	case won >= 1_000_000_000:
		return 1
	case won >= 10_000_000:
		return 2
	case won >= 1_000_000:
		return 3
	case won >= 50_000:
		return 4
	default:
		return 5
	}
}

// CheckWin - число совпадений и ранг приза для сыгранных номеров.
// Порядок старшинства фиксирован: 6 совпадений - ранг 1; 5 и бонус -
// ранг 2; 5 без бонуса - ранг 3; 4 - ранг 4; 3 - ранг 5; иначе 0.
func CheckWin(played []int, draw model.DrawRecord) (model.WinCheckResult, error) {
	if err := validatePlayed(played); err != nil {
		return model.WinCheckResult{}, err
	}

	playedSet := make(map[int]bool, len(played))
	for _, n := range played {
		playedSet[n] = true
	}

	matchCount := 0
	for _, n := range draw.Numbers {
		if playedSet[n] {
			matchCount++
		}
	}
	bonusMatched := playedSet[draw.Bonus]

	rank := model.RankNone
	switch {
	case matchCount == 6:
		rank = 1
	case matchCount == 5 && bonusMatched:
		rank = 2
	case matchCount == 5:
		rank = 3
	case matchCount == 4:
		rank = 4
	case matchCount == 3:
		rank = 5
	}

	sortedPlayed := append([]int(nil), played...)
	sort.Ints(sortedPlayed)

	return model.WinCheckResult{
		Round:          draw.Round,
		Played:         sortedPlayed,
		WinningNumbers: draw.Numbers,
		Bonus:          draw.Bonus,
		MatchCount:     matchCount,
		BonusMatched:   bonusMatched,
		Rank:           rank,
	}, nil
}

func validatePlayed(played []int) error {
	if len(played) != 6 {
		return fmt.Errorf("%w: need 6 numbers, got %d", ErrInvalidNumbers, len(played))
	}
	seen := make(map[int]bool, 6)
	for _, n := range played {
		if n < 1 || n > 45 {
			return fmt.Errorf("%w: %d out of range", ErrInvalidNumbers, n)
		}
		if seen[n] {
			return fmt.Errorf("%w: duplicate %d", ErrInvalidNumbers, n)
		}
		seen[n] = true
	}
	return nil
}

// RandomNumbers - count различных номеров 1-45 по возрастанию
func RandomNumbers(count int) ([]int, error) {
	if count < 1 || count > 45 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidNumbers, count)
	}
	numbers := rand.Perm(45)[:count]
	for i := range numbers {
		numbers[i]++
	}
	sort.Ints(numbers)
	return numbers, nil
}
