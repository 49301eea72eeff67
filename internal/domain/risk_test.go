package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settled(result WagerResult, amount, payout string) Wager {
	return Wager{Amount: dec(amount), PayoutAmount: dec(payout), Result: result, IsSettled: true}
}

func TestWalletRiskState_FiveWinsBlacklists(t *testing.T) {
	p := DefaultRiskPolicy()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewWalletRiskState("0xabc")

	for i := 0; i < 4; i++ {
		s.Record(settled(ResultWin, "10", "19"), now, p)
	}
	assert.False(t, s.IsBlacklisted)

	s.Record(settled(ResultWin, "10", "19"), now, p)
	assert.True(t, s.IsBlacklisted)
	assert.False(t, s.IsWhitelisted)
	assert.Equal(t, now.Add(p.BlacklistCooldown), s.CooldownUntil)
	assert.True(t, s.Restricted(now.Add(time.Minute), p))
	assert.False(t, s.Restricted(s.CooldownUntil, p))
	assert.Equal(t, "45", s.TotalWinAmount.String())
}

func TestWalletRiskState_EightLossesWhitelists(t *testing.T) {
	p := DefaultRiskPolicy()
	now := time.Now()
	s := NewWalletRiskState("0xabc")
	for i := 0; i < 8; i++ {
		s.Record(settled(ResultLose, "5", "0"), now, p)
	}
	assert.True(t, s.IsWhitelisted)
	assert.False(t, s.IsBlacklisted)
	assert.True(t, s.ActiveWhitelist(now))
	assert.Equal(t, "40", s.TotalLossAmount.String())
}

func TestWalletRiskState_DrawKeepsStreaks(t *testing.T) {
	p := DefaultRiskPolicy()
	s := NewWalletRiskState("w")
	now := time.Now()
	s.Record(settled(ResultWin, "1", "1.9"), now, p)
	s.Record(settled(ResultWin, "1", "1.9"), now, p)
	s.Record(settled(ResultDraw, "1", "1"), now, p)
	assert.Equal(t, 2, s.ConsecutiveWins)
	assert.Equal(t, 0, s.ConsecutiveLosses)

	s.Record(settled(ResultLose, "1", "0"), now, p)
	assert.Equal(t, 0, s.ConsecutiveWins)
	assert.Equal(t, 1, s.ConsecutiveLosses)
	assert.Equal(t, 4, s.TotalWagers)
}

func TestWalletRiskState_ClearExpired(t *testing.T) {
	p := DefaultRiskPolicy()
	now := time.Now()
	s := NewWalletRiskState("w")
	for i := 0; i < 5; i++ {
		s.Record(settled(ResultWin, "1", "1.9"), now, p)
	}
	require.True(t, s.IsBlacklisted)

	assert.False(t, s.ClearExpired(now.Add(time.Minute)))
	assert.True(t, s.ClearExpired(now.Add(p.BlacklistCooldown)))
	assert.False(t, s.IsBlacklisted)
	assert.True(t, s.CooldownUntil.IsZero())
}

func TestWalletRiskState_WhitelistPolicy(t *testing.T) {
	p := DefaultRiskPolicy()
	now := time.Now()
	s := WalletRiskState{IsWhitelisted: true, CooldownUntil: now.Add(time.Hour)}
	assert.True(t, s.Restricted(now, p))

	p.WhitelistBlocksWagers = false
	assert.False(t, s.Restricted(now, p))
}

func TestRestrictedError_Is(t *testing.T) {
	var err error = &RestrictedError{Wallet: "w", Blacklisted: true, Remaining: 90 * time.Second}
	assert.True(t, errors.Is(err, ErrWalletRestricted))
	assert.Contains(t, err.Error(), "blacklist")
	assert.Contains(t, err.Error(), "1m30s")
}

func TestDailyTarget_RecordRound(t *testing.T) {
	day := time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)
	dt := NewDailyTarget(day, dec("10000"), dec("0.02"))
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), dt.Date)
	assert.Equal(t, "200", dt.TargetAmount.String())
	assert.False(t, dt.IsTargetAchieved)
	assert.InDelta(t, 1.0, dt.RemainingFraction(), 1e-9)

	dt.RecordRound(dec("150"))
	dt.RecordRound(dec("-20"))
	assert.Equal(t, 2, dt.TotalRounds)
	assert.Equal(t, 1, dt.ProfitableRounds)
	assert.False(t, dt.IsTargetAchieved)
	assert.Equal(t, "10130", dt.CurrentBalance.String())

	dt.RecordRound(dec("70"))
	assert.True(t, dt.IsTargetAchieved)
	assert.Equal(t, 0.0, dt.RemainingFraction())
}
