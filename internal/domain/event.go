package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint es una muestra del histórico de precios.
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	At        time.Time       `json:"at"`
	Synthetic bool            `json:"synthetic,omitempty"` // producido por un trade inyectado
}

// EventType identifica el tipo de evento emitido por el engine.
type EventType string

const (
	EventRoundState  EventType = "round_state"
	EventPriceUpdate EventType = "price_update"
	EventSettlement  EventType = "settlement"
)

// RoundSnapshot es la vista pública de una ronda.
type RoundSnapshot struct {
	RoundID      string           `json:"round_id"`
	Number       int64            `json:"number"`
	Status       RoundStatus      `json:"status"`
	StartTime    time.Time        `json:"start_time"`
	LockTime     time.Time        `json:"lock_time"`
	EndTime      time.Time        `json:"end_time"`
	StartPrice   decimal.Decimal  `json:"start_price"`
	CurrentPrice decimal.Decimal  `json:"current_price"`
	FinalPrice   *decimal.Decimal `json:"final_price,omitempty"`
	HouseProfit  decimal.Decimal  `json:"house_profit"`
	Aborted      bool             `json:"aborted,omitempty"`
	RemainingMs  int64            `json:"remaining_ms"`
}

// Snapshot construye la vista pública de la ronda en el instante dado.
func (r Round) Snapshot(now time.Time) RoundSnapshot {
	return RoundSnapshot{
		RoundID:      r.ID,
		Number:       r.Number,
		Status:       r.Status,
		StartTime:    r.StartTime,
		LockTime:     r.LockTime,
		EndTime:      r.EndTime,
		StartPrice:   r.StartPrice,
		CurrentPrice: r.CurrentPrice,
		FinalPrice:   r.FinalPrice,
		HouseProfit:  r.HouseProfit,
		Aborted:      r.Aborted,
		RemainingMs:  r.Remaining(now).Milliseconds(),
	}
}

// PriceUpdate se emite en cada tick del feed.
type PriceUpdate struct {
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change24h"` // porcentaje
	At        time.Time       `json:"at"`
}

// SettlementSummary se emite al completar el settlement de una ronda.
type SettlementSummary struct {
	RoundID      string          `json:"round_id"`
	Number       int64           `json:"number"`
	Outcome      Direction       `json:"outcome,omitempty"` // vacío si DRAW
	StartPrice   decimal.Decimal `json:"start_price"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	Wagers       int             `json:"wagers"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	Draws        int             `json:"draws"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
	TotalPayout  decimal.Decimal `json:"total_payout"`
	HouseProfit  decimal.Decimal `json:"house_profit"`
	Aborted      bool            `json:"aborted,omitempty"`
	NeedsReview  bool            `json:"needs_review,omitempty"`
	ReviewReason string          `json:"review_reason,omitempty"`
}

// Event es el sobre que reciben los broadcasters. Los consumidores deben ser
// idempotentes: la entrega es at-least-once.
type Event struct {
	Type       EventType          `json:"type"`
	Seq        uint64             `json:"seq"`
	Round      *RoundSnapshot     `json:"round,omitempty"`
	Price      *PriceUpdate       `json:"price,omitempty"`
	Settlement *SettlementSummary `json:"settlement,omitempty"`
	TS         int64              `json:"ts"`
}
