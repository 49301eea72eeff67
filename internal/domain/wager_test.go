package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func makeWager(wallet string, dir Direction, amount string) Wager {
	return Wager{
		ID:            wallet + "-" + string(dir),
		RoundID:       "round-1",
		WalletAddress: wallet,
		Amount:        dec(amount),
		Direction:     dir,
		PayoutRatio:   DefaultPayoutRatio,
	}
}

func settleAll(wagers []Wager, start, final string, aborted bool) []Wager {
	out := make([]Wager, len(wagers))
	for i, w := range wagers {
		w.Result, w.PayoutAmount = w.Settle(dec(start), dec(final), aborted)
		w.IsSettled = true
		out[i] = w
	}
	return out
}

func TestWagerSettle_PriceUp(t *testing.T) {
	a := makeWager("A", Up, "100")
	b := makeWager("B", Down, "100")
	settled := settleAll([]Wager{a, b}, "100.000000", "105", false)

	assert.Equal(t, ResultWin, settled[0].Result)
	assert.True(t, dec("190").Equal(settled[0].PayoutAmount))
	assert.Equal(t, ResultLose, settled[1].Result)
	assert.True(t, settled[1].PayoutAmount.IsZero())
	assert.Equal(t, "10", HouseProfit(settled).String())
}

func TestWagerSettle_PriceUnchanged(t *testing.T) {
	a := makeWager("A", Up, "100")
	b := makeWager("B", Down, "100")
	settled := settleAll([]Wager{a, b}, "100.000000", "100", false)

	for _, w := range settled {
		assert.Equal(t, ResultDraw, w.Result)
		assert.True(t, dec("100").Equal(w.PayoutAmount))
	}
	assert.True(t, HouseProfit(settled).IsZero())
}

func TestWagerSettle_Aborted(t *testing.T) {
	// Aunque el precio se movió, una ronda abortada devuelve el stake.
	w := makeWager("A", Up, "42.5")
	res, payout := w.Settle(dec("100"), dec("120"), true)
	assert.Equal(t, ResultDraw, res)
	assert.True(t, dec("42.5").Equal(payout))
}

func TestHouseProfit_ExactDecimal(t *testing.T) {
	wagers := []Wager{
		makeWager("A", Up, "0.1"),
		makeWager("B", Up, "0.2"),
		makeWager("C", Down, "0.3"),
	}
	settled := settleAll(wagers, "1", "0.999999", false)

	// A y B pierden, C gana 0.3 × 1.9 = 0.57
	assert.Equal(t, "0.03", HouseProfit(settled).String())
}

func TestRoundOutcome(t *testing.T) {
	final := dec("99.5")
	r := Round{StartPrice: dec("100"), FinalPrice: &final}
	dir, ok := r.Outcome()
	assert.True(t, ok)
	assert.Equal(t, Down, dir)

	same := dec("100.000")
	r.FinalPrice = &same
	_, ok = r.Outcome()
	assert.False(t, ok)
}

func TestRoundRemaining(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := Round{
		Status:   RoundBetting,
		LockTime: start.Add(25 * time.Second),
		EndTime:  start.Add(30 * time.Second),
	}
	assert.Equal(t, 25*time.Second, r.Remaining(start))
	r.Status = RoundLocked
	assert.Equal(t, 2*time.Second, r.Remaining(start.Add(28*time.Second)))
	assert.Equal(t, time.Duration(0), r.Remaining(start.Add(31*time.Second)))
}
