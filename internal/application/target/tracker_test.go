package target_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/target"
	"github.com/alejandrodnm/updown/internal/domain"
)

type mockHouse struct {
	balance decimal.Decimal
	err     error
	calls   int
}

func (m *mockHouse) HouseBalance(_ context.Context) (decimal.Decimal, error) {
	m.calls++
	return m.balance, m.err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTracker(t *testing.T, house *mockHouse) (*target.Tracker, *storage.SQLiteStorage) {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return target.New(db, house, dec("0.05")), db
}

func TestTracker_EnsureDayCreatesOncePerDay(t *testing.T) {
	house := &mockHouse{balance: dec("10000")}
	tr, _ := newTracker(t, house)
	ctx := context.Background()
	morning := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	dt, err := tr.EnsureDay(ctx, morning)
	require.NoError(t, err)
	assert.Equal(t, "500", dt.TargetAmount.String())
	assert.False(t, dt.IsTargetAchieved)

	_, err = tr.EnsureDay(ctx, morning.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, house.calls)

	house.balance = dec("12000")
	dt, err = tr.EnsureDay(ctx, morning.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, house.calls)
	assert.Equal(t, "600", dt.TargetAmount.String())
	assert.True(t, dt.Date.Equal(time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)))
}

func TestTracker_EnsureDayReusesStoredRow(t *testing.T) {
	house := &mockHouse{balance: dec("10000")}
	tr, db := newTracker(t, house)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	stored := domain.NewDailyTarget(now, dec("8000"), dec("0.05"))
	stored.RecordRound(dec("100"))
	require.NoError(t, db.SaveDailyTarget(ctx, stored))

	dt, err := tr.EnsureDay(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, house.calls)
	assert.Equal(t, "100", dt.AchievedAmount.String())
}

func TestTracker_RecordRound(t *testing.T) {
	house := &mockHouse{balance: dec("1000")}
	tr, db := newTracker(t, house)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	_, err := tr.RecordRound(ctx, now, dec("30"))
	require.NoError(t, err)
	_, err = tr.RecordRound(ctx, now, dec("-5"))
	require.NoError(t, err)
	assert.False(t, tr.TargetAchieved())

	dt, err := tr.RecordRound(ctx, now, dec("25"))
	require.NoError(t, err)
	assert.Equal(t, "50", dt.AchievedAmount.String())
	assert.Equal(t, "1050", dt.CurrentBalance.String())
	assert.Equal(t, 3, dt.TotalRounds)
	assert.Equal(t, 2, dt.ProfitableRounds)
	assert.True(t, dt.IsTargetAchieved)
	assert.True(t, tr.TargetAchieved())

	persisted, err := db.GetDailyTarget(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "50", persisted.AchievedAmount.String())
	assert.True(t, persisted.IsTargetAchieved)
}

func TestTracker_Aggressiveness(t *testing.T) {
	house := &mockHouse{balance: dec("1000")}
	tr, _ := newTracker(t, house)
	ctx := context.Background()
	now := time.Now()

	assert.Equal(t, 1.0, tr.Aggressiveness(false), "no day yet")

	_, err := tr.EnsureDay(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1.0, tr.Aggressiveness(false))

	_, err = tr.RecordRound(ctx, now, dec("25")) // falta la mitad
	require.NoError(t, err)
	assert.InDelta(t, 0.5, tr.Aggressiveness(false), 1e-9)
	assert.Equal(t, 1.0, tr.Aggressiveness(true))

	_, err = tr.RecordRound(ctx, now, dec("25"))
	require.NoError(t, err)
	assert.Equal(t, 0.25, tr.Aggressiveness(false), "floor once achieved")
}

func TestTracker_HouseBalanceError(t *testing.T) {
	house := &mockHouse{err: errors.New("balance service down")}
	tr, _ := newTracker(t, house)

	_, err := tr.EnsureDay(context.Background(), time.Now())
	require.Error(t, err)
	_, ok := tr.Current()
	assert.False(t, ok)
}

func TestTracker_RolloverOpensToday(t *testing.T) {
	house := &mockHouse{balance: dec("2000")}
	tr, _ := newTracker(t, house)

	tr.Rollover(context.Background())

	dt, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, "100", dt.TargetAmount.String())
	assert.WithinDuration(t, domain.DayOf(time.Now()), dt.Date, 24*time.Hour)
}
