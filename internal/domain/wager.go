package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WagerResult es el resultado de una apuesta ya liquidada.
type WagerResult string

const (
	ResultNone WagerResult = ""
	ResultWin  WagerResult = "WIN"
	ResultLose WagerResult = "LOSE"
	ResultDraw WagerResult = "DRAW"
)

// DefaultPayoutRatio es el multiplicador aplicado al stake de una apuesta ganadora.
var DefaultPayoutRatio = decimal.RequireFromString("1.9")

// Wager es la apuesta direccional de un wallet dentro de una ronda.
// RoundID es inmutable; IsSettled pasa de false a true exactamente una vez.
type Wager struct {
	ID            string // UUID
	RoundID       string
	WalletAddress string
	Amount        decimal.Decimal
	Direction     Direction
	PayoutRatio   decimal.Decimal
	IsSettled     bool
	Result        WagerResult
	PayoutAmount  decimal.Decimal
	EntryPrice    decimal.Decimal
	PlacedAt      time.Time
	SettledAt     *time.Time
}

// Settle calcula el resultado y el payout de la apuesta contra los precios de la ronda.
//
//   - precio movido estrictamente a favor → WIN, payout = amount × ratio
//   - precio movido en contra             → LOSE, payout = 0
//   - precio sin cambios o ronda abortada → DRAW, payout = amount (stake devuelto)
func (w Wager) Settle(startPrice, finalPrice decimal.Decimal, aborted bool) (WagerResult, decimal.Decimal) {
	if aborted {
		return ResultDraw, w.Amount
	}
	cmp := finalPrice.Cmp(startPrice)
	if cmp == 0 {
		return ResultDraw, w.Amount
	}
	moved := Down
	if cmp > 0 {
		moved = Up
	}
	if moved == w.Direction {
		return ResultWin, w.Amount.Mul(w.PayoutRatio)
	}
	return ResultLose, decimal.Zero
}

// Liability es lo que la casa paga de más si la apuesta gana: amount × (ratio − 1).
func (w Wager) Liability() decimal.Decimal {
	return w.Amount.Mul(w.PayoutRatio.Sub(decimal.NewFromInt(1)))
}

// HouseProfit devuelve Σ amount − Σ payout sobre las apuestas dadas.
// Las no liquidadas cuentan con payout cero.
func HouseProfit(wagers []Wager) decimal.Decimal {
	profit := decimal.Zero
	for _, w := range wagers {
		profit = profit.Add(w.Amount)
		if w.IsSettled {
			profit = profit.Sub(w.PayoutAmount)
		}
	}
	return profit
}
