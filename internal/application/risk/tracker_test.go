package risk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/risk"
	"github.com/alejandrodnm/updown/internal/domain"
)

func newTracker(t *testing.T) (*risk.Tracker, *storage.SQLiteStorage) {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return risk.New(db, domain.DefaultRiskPolicy()), db
}

func settledWager(wallet string, result domain.WagerResult) domain.Wager {
	amount := decimal.NewFromInt(10)
	w := domain.Wager{
		WalletAddress: wallet,
		Amount:        amount,
		Direction:     domain.Up,
		PayoutRatio:   domain.DefaultPayoutRatio,
		IsSettled:     true,
		Result:        result,
		PayoutAmount:  decimal.Zero,
	}
	switch result {
	case domain.ResultWin:
		w.PayoutAmount = amount.Mul(domain.DefaultPayoutRatio)
	case domain.ResultDraw:
		w.PayoutAmount = amount
	}
	return w
}

func TestTracker_FiveWinsBlacklist(t *testing.T) {
	tr, db := newTracker(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := tr.Record(ctx, settledWager("0xa", domain.ResultWin), now)
		require.NoError(t, err)
	}
	require.NoError(t, tr.Check(ctx, "0xa", now), "4 wins is still allowed")

	s, err := tr.Record(ctx, settledWager("0xa", domain.ResultWin), now)
	require.NoError(t, err)
	assert.True(t, s.IsBlacklisted)
	assert.Equal(t, 5, s.ConsecutiveWins)
	assert.Equal(t, "45", s.TotalWinAmount.String())

	err = tr.Check(ctx, "0xa", now.Add(time.Minute))
	require.ErrorIs(t, err, domain.ErrWalletRestricted)
	var re *domain.RestrictedError
	require.True(t, errors.As(err, &re))
	assert.True(t, re.Blacklisted)
	assert.Equal(t, 29*time.Minute, re.Remaining)
	assert.True(t, re.Until.Equal(now.Add(30*time.Minute)))

	persisted, err := db.GetWalletRisk(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, persisted.IsBlacklisted)
}

func TestTracker_CooldownExpiresAndIsPersisted(t *testing.T) {
	tr, db := newTracker(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := tr.Record(ctx, settledWager("0xa", domain.ResultWin), now)
		require.NoError(t, err)
	}

	later := now.Add(31 * time.Minute)
	require.NoError(t, tr.Check(ctx, "0xa", later))

	persisted, err := db.GetWalletRisk(ctx, "0xa")
	require.NoError(t, err)
	assert.False(t, persisted.IsBlacklisted)
	assert.Equal(t, 5, persisted.ConsecutiveWins, "streak survives the cooldown")
}

func TestTracker_EightLossesWhitelist(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 8; i++ {
		_, err := tr.Record(ctx, settledWager("0xb", domain.ResultLose), now)
		require.NoError(t, err)
	}

	s, err := tr.State(ctx, "0xb")
	require.NoError(t, err)
	assert.True(t, s.IsWhitelisted)
	assert.False(t, s.IsBlacklisted)
	assert.Equal(t, "80", s.TotalLossAmount.String())
	assert.True(t, tr.IsWhitelisted("0xb", now))

	err = tr.Check(ctx, "0xb", now)
	var re *domain.RestrictedError
	require.True(t, errors.As(err, &re))
	assert.False(t, re.Blacklisted)
}

func TestTracker_WhitelistCanBeNonBlocking(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	policy := domain.DefaultRiskPolicy()
	policy.WhitelistBlocksWagers = false
	tr := risk.New(db, policy)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 8; i++ {
		_, err := tr.Record(ctx, settledWager("0xb", domain.ResultLose), now)
		require.NoError(t, err)
	}
	assert.NoError(t, tr.Check(ctx, "0xb", now))
	assert.True(t, tr.IsWhitelisted("0xb", now))
}

func TestTracker_UnknownWalletIsClean(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Check(ctx, "0xnew", time.Now()))
	s, err := tr.State(ctx, "0xnew")
	require.NoError(t, err)
	assert.Equal(t, 0, s.TotalWagers)
	assert.False(t, tr.IsWhitelisted("0xnew", time.Now()))
}

func TestTracker_LoadWarmsCache(t *testing.T) {
	tr, db := newTracker(t)
	ctx := context.Background()
	now := time.Now()

	s := domain.NewWalletRiskState("0xc")
	s.IsWhitelisted = true
	s.CooldownUntil = now.Add(time.Hour)
	s.UpdatedAt = now
	require.NoError(t, db.SaveWalletRisk(ctx, s))

	assert.False(t, tr.IsWhitelisted("0xc", now), "cache is cold")
	require.NoError(t, tr.Load(ctx))
	assert.True(t, tr.IsWhitelisted("0xc", now))
}
