package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundStatus representa el ciclo de vida de una ronda.
type RoundStatus string

const (
	RoundBetting   RoundStatus = "BETTING"
	RoundLocked    RoundStatus = "LOCKED"
	RoundSettling  RoundStatus = "SETTLING"
	RoundCompleted RoundStatus = "COMPLETED"
)

// IsOpen devuelve true mientras la ronda está en BETTING o LOCKED.
func (s RoundStatus) IsOpen() bool {
	return s == RoundBetting || s == RoundLocked
}

// Direction es el lado de una apuesta (y el resultado de una ronda).
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// Valid devuelve true si la dirección es UP o DOWN.
func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// Opposite devuelve la dirección contraria.
func (d Direction) Opposite() Direction {
	if d == Up {
		return Down
	}
	return Up
}

// Review reasons attached to rounds flagged for operator reconciliation.
const (
	ReviewPriceUnavailable = "price_unavailable"
	ReviewPayoutFailed     = "payout_failed"
	ReviewRecoveredAbort   = "recovered_abort"
)

// Round es un ciclo de apuestas con un único resultado UP/DOWN.
// Solo el scheduler la muta; el resto de componentes trabaja con copias.
type Round struct {
	ID           string // UUID
	Number       int64  // secuencia monotónica, solo para mostrar
	StartTime    time.Time
	LockTime     time.Time // fin de la ventana de apuestas
	EndTime      time.Time // fin del lock buffer → settlement
	StartPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	FinalPrice   *decimal.Decimal // nil hasta el settlement
	Status       RoundStatus
	HouseProfit  decimal.Decimal // Σ amount − Σ payout
	Aborted      bool            // settled as all-DRAW (price unavailable / recovery)
	NeedsReview  bool
	ReviewReason string
}

// AcceptsWagers devuelve true si la ronda está en BETTING.
func (r Round) AcceptsWagers() bool {
	return r.Status == RoundBetting
}

// Outcome devuelve la dirección ganadora comparando el precio final con el inicial.
// ok=false cuando el precio no cambió (o la ronda aún no tiene precio final).
func (r Round) Outcome() (dir Direction, ok bool) {
	if r.FinalPrice == nil {
		return "", false
	}
	switch r.FinalPrice.Cmp(r.StartPrice) {
	case 1:
		return Up, true
	case -1:
		return Down, true
	default:
		return "", false
	}
}

// Remaining devuelve el tiempo que falta para la próxima transición.
func (r Round) Remaining(now time.Time) time.Duration {
	var deadline time.Time
	switch r.Status {
	case RoundBetting:
		deadline = r.LockTime
	case RoundLocked:
		deadline = r.EndTime
	default:
		return 0
	}
	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}
