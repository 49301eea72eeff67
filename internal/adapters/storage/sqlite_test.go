package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/domain"
)

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func makeRound(id string, number int64, start time.Time) domain.Round {
	return domain.Round{
		ID:           id,
		Number:       number,
		StartTime:    start,
		LockTime:     start.Add(25 * time.Second),
		EndTime:      start.Add(30 * time.Second),
		StartPrice:   dec("100.000000"),
		CurrentPrice: dec("100.000000"),
		Status:       domain.RoundBetting,
		HouseProfit:  decimal.Zero,
	}
}

func makeWager(id, roundID, wallet string, dir domain.Direction, amount string, at time.Time) domain.Wager {
	return domain.Wager{
		ID:            id,
		RoundID:       roundID,
		WalletAddress: wallet,
		Amount:        dec(amount),
		Direction:     dir,
		PayoutRatio:   domain.DefaultPayoutRatio,
		PayoutAmount:  decimal.Zero,
		EntryPrice:    dec("100"),
		PlacedAt:      at,
	}
}

func TestSQLiteStorage_RoundRoundTrip(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	r := makeRound("r1", 1, start)
	require.NoError(t, db.SaveRound(ctx, r))

	final := dec("101.25")
	r.Status = domain.RoundCompleted
	r.FinalPrice = &final
	r.HouseProfit = dec("-9.5")
	r.NeedsReview = true
	r.ReviewReason = domain.ReviewPayoutFailed
	require.NoError(t, db.SaveRound(ctx, r))

	got, err := db.GetRound(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoundCompleted, got.Status)
	require.NotNil(t, got.FinalPrice)
	assert.True(t, final.Equal(*got.FinalPrice))
	assert.Equal(t, "-9.5", got.HouseProfit.String())
	assert.True(t, got.StartTime.Equal(start))
	assert.True(t, got.NeedsReview)

	n, err := db.LastRoundNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.GetRound(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStorage_UnfinishedRounds(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Now()

	done := makeRound("done", 1, now)
	done.Status = domain.RoundCompleted
	require.NoError(t, db.SaveRound(ctx, done))
	open := makeRound("open", 2, now)
	open.Status = domain.RoundLocked
	require.NoError(t, db.SaveRound(ctx, open))

	rounds, err := db.GetUnfinishedRounds(ctx)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, "open", rounds[0].ID)

	recent, err := db.GetRecentRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "open", recent[0].ID)
}

func TestSQLiteStorage_MarkWagerSettledOnce(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.SaveWager(ctx, makeWager("w1", "r1", "0xa", domain.Up, "100", now)))

	st := domain.WagerSettlement{WagerID: "w1", Result: domain.ResultWin, PayoutAmount: dec("190"), SettledAt: now}
	require.NoError(t, db.MarkWagerSettled(ctx, st))

	err := db.MarkWagerSettled(ctx, domain.WagerSettlement{WagerID: "w1", Result: domain.ResultLose, PayoutAmount: decimal.Zero, SettledAt: now})
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	w, err := db.GetWager(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, w.IsSettled)
	assert.Equal(t, domain.ResultWin, w.Result)
	assert.Equal(t, "190", w.PayoutAmount.String())
	require.NotNil(t, w.SettledAt)
}

func TestSQLiteStorage_CommitSettlementSkipsSettled(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Now()

	r := makeRound("r1", 1, now)
	require.NoError(t, db.SaveRound(ctx, r))
	require.NoError(t, db.SaveWager(ctx, makeWager("a", "r1", "0xa", domain.Up, "100", now)))
	require.NoError(t, db.SaveWager(ctx, makeWager("b", "r1", "0xb", domain.Down, "100", now.Add(time.Millisecond))))

	sts := []domain.WagerSettlement{
		{WagerID: "a", Result: domain.ResultWin, PayoutAmount: dec("190"), SettledAt: now},
		{WagerID: "b", Result: domain.ResultLose, PayoutAmount: decimal.Zero, SettledAt: now},
	}
	r.Status = domain.RoundSettling
	r.HouseProfit = dec("10")

	ids, err := db.CommitSettlement(ctx, r, sts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	// Retry: nada nuevo
	ids, err = db.CommitSettlement(ctx, r, sts)
	require.NoError(t, err)
	assert.Empty(t, ids)

	payouts, err := db.GetPayouts(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, payouts, 2)

	pending, err := db.GetUndeliveredPayouts(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, db.MarkPayoutSent(ctx, "a", now))
	require.NoError(t, db.MarkPayoutFailed(ctx, "b", 3, "timeout"))

	pending, err = db.GetUndeliveredPayouts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.PayoutFailed, pending[0].Status)
	assert.Equal(t, 3, pending[0].Attempts)

	got, err := db.GetRound(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoundSettling, got.Status)
	assert.Equal(t, "10", got.HouseProfit.String())
}

func TestSQLiteStorage_WalletRisk(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s := domain.NewWalletRiskState("0xa")
	s.ConsecutiveWins = 5
	s.IsBlacklisted = true
	s.CooldownUntil = now.Add(time.Hour)
	s.TotalWagerAmount = dec("50")
	s.UpdatedAt = now
	require.NoError(t, db.SaveWalletRisk(ctx, s))

	got, err := db.GetWalletRisk(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, got.IsBlacklisted)
	assert.Equal(t, 5, got.ConsecutiveWins)
	assert.True(t, got.CooldownUntil.Equal(s.CooldownUntil))
	assert.Equal(t, "50", got.TotalWagerAmount.String())

	_, err = db.GetWalletRisk(ctx, "0xnope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := db.ListWalletRisk(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStorage_DailyTarget(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	day := time.Date(2026, 7, 10, 13, 0, 0, 0, time.UTC)

	dt := domain.NewDailyTarget(day, dec("1000"), dec("0.05"))
	dt.RecordRound(dec("20"))
	require.NoError(t, db.SaveDailyTarget(ctx, dt))

	got, err := db.GetDailyTarget(ctx, day.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "50", got.TargetAmount.String())
	assert.Equal(t, "20", got.AchievedAmount.String())
	assert.Equal(t, 1, got.TotalRounds)
	assert.True(t, got.Date.Equal(domain.DayOf(day)))

	_, err = db.GetDailyTarget(ctx, day.Add(48*time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStorage_WalletBook(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.SeedWallet(ctx, "0xa", dec("150")))
	require.NoError(t, db.SeedWallet(ctx, storage.HouseWallet, dec("1000")))

	require.NoError(t, db.Debit(ctx, "0xa", dec("100"), "w1"))
	// Misma ref: idempotente
	require.NoError(t, db.Debit(ctx, "0xa", dec("100"), "w1"))

	bal, err := db.WalletBalance(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "50", bal.String())

	err = db.Debit(ctx, "0xa", dec("60"), "w2")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	require.NoError(t, db.Credit(ctx, "0xa", dec("190"), "payout:w1"))
	bal, err = db.WalletBalance(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "240", bal.String())

	house, err := db.HouseBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "910", house.String())
}
