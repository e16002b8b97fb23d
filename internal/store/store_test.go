package store

import (
	"context"
	"os"
	"testing"
	"time"

	"dhlotto/internal/model"
	"dhlotto/internal/store/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("DATABASE_DSN is not set")
	}

	s, err := NewStore(config.Config{DBDsn: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreDraws(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	draw := model.DrawRecord{
		Round:    900001,
		Numbers:  []int{1, 9, 12, 13, 20, 45},
		Bonus:    3,
		DrawDate: time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC),
	}

	err := s.DrawPost(ctx, draw)
	if err != nil {
		require.ErrorIs(t, err, ErrAlreadyExists)
	}

	// повторная вставка того же тиража
	require.ErrorIs(t, s.DrawPost(ctx, draw), ErrAlreadyExists)

	got, err := s.DrawGet(ctx, draw.Round)
	require.NoError(t, err)
	require.Equal(t, draw.Numbers, got.Numbers)
	require.Equal(t, draw.Bonus, got.Bonus)

	latest, err := s.DrawGetLatest(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, latest.Round, draw.Round)

	recent, err := s.DrawGetRecent(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	// убывание номеров тиражей
	for i := 1; i < len(recent); i++ {
		require.Greater(t, recent[i-1].Round, recent[i].Round)
	}
}

func TestStorePurchaseSettlement(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	purchase := model.PurchaseRecord{
		ID:    uuid.NewString(),
		Round: 900002,
		Slots: []model.Slot{
			{Label: "A", Mode: model.ModeAuto, Numbers: []int{9, 12, 30, 33, 35, 43}},
		},
		Barcode:     "11111 22222 33333 44444 55555 66666",
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
		Rank:        model.RankUnsettled,
	}

	require.NoError(t, s.PurchasePost(ctx, purchase))
	require.ErrorIs(t, s.PurchasePost(ctx, purchase), ErrAlreadyExists)

	unsettled, err := s.PurchaseGetUnsettled(ctx)
	require.NoError(t, err)
	found := false
	for _, p := range unsettled {
		if p.ID == purchase.ID {
			found = true
			require.Equal(t, purchase.Slots, p.Slots)
		}
	}
	require.True(t, found)

	require.NoError(t, s.PurchaseSettle(ctx, purchase.ID, 5))

	unsettled, err = s.PurchaseGetUnsettled(ctx)
	require.NoError(t, err)
	for _, p := range unsettled {
		require.NotEqual(t, purchase.ID, p.ID)
	}

	// расчет несуществующей покупки
	require.ErrorIs(t, s.PurchaseSettle(ctx, uuid.NewString(), 5), ErrNoRows)
}
