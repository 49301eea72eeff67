package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyTarget sigue el profit acumulado de la casa contra el objetivo del día.
type DailyTarget struct {
	Date             time.Time // medianoche UTC
	StartBalance     decimal.Decimal
	CurrentBalance   decimal.Decimal
	TargetPercentage decimal.Decimal
	TargetAmount     decimal.Decimal
	AchievedAmount   decimal.Decimal
	IsTargetAchieved bool
	TotalRounds      int
	ProfitableRounds int
}

// DayOf trunca un instante a su día calendario UTC.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDailyTarget crea el objetivo del día a partir del balance inicial de la casa.
func NewDailyTarget(day time.Time, startBalance, pct decimal.Decimal) DailyTarget {
	t := DailyTarget{
		Date:             DayOf(day),
		StartBalance:     startBalance,
		CurrentBalance:   startBalance,
		TargetPercentage: pct,
		TargetAmount:     startBalance.Mul(pct),
		AchievedAmount:   decimal.Zero,
	}
	t.IsTargetAchieved = t.AchievedAmount.GreaterThanOrEqual(t.TargetAmount)
	return t
}

// RecordRound suma el houseProfit de una ronda liquidada.
func (t *DailyTarget) RecordRound(houseProfit decimal.Decimal) {
	t.AchievedAmount = t.AchievedAmount.Add(houseProfit)
	t.CurrentBalance = t.StartBalance.Add(t.AchievedAmount)
	t.TotalRounds++
	if houseProfit.IsPositive() {
		t.ProfitableRounds++
	}
	t.IsTargetAchieved = t.AchievedAmount.GreaterThanOrEqual(t.TargetAmount)
}

// RemainingFraction devuelve la fracción del objetivo que falta (0–1).
func (t DailyTarget) RemainingFraction() float64 {
	if !t.TargetAmount.IsPositive() {
		return 0
	}
	remaining := t.TargetAmount.Sub(t.AchievedAmount)
	if !remaining.IsPositive() {
		return 0
	}
	f, _ := remaining.Div(t.TargetAmount).Float64()
	if f > 1 {
		return 1
	}
	return f
}
