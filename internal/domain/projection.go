package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitProjection es la vista de riesgo de la casa para la ronda abierta.
// Se recalcula en cada tick mientras la ronda está en BETTING o LOCKED.
type ProfitProjection struct {
	RoundID                   string
	TotalUpStake              decimal.Decimal
	TotalDownStake            decimal.Decimal
	ExemptStake               decimal.Decimal // stake de wallets en whitelist, fuera del cálculo
	ProjectedProfitIfUpWins   decimal.Decimal
	ProjectedProfitIfDownWins decimal.Decimal
	RecommendedOutcome        Direction
	SteeringRequired          bool
	ComputedAt                time.Time
}

// ProjectionInput agrupa lo que necesita ComputeProjection.
type ProjectionInput struct {
	RoundID        string
	Wagers         []Wager
	StartPrice     decimal.Decimal
	CurrentPrice   decimal.Decimal
	TargetAchieved bool
	// Exempt excluye a un wallet del cálculo (whitelist). Puede ser nil.
	Exempt func(wallet string) bool
	Now    time.Time
}

// ComputeProjection calcula el profit de la casa para cada resultado posible.
//
// Si gana UP: la casa se queda el stake DOWN y paga amount×(ratio−1) a cada apuesta UP.
// Simétrico para DOWN. Con ratio único 1.9 queda
// projectedProfitIfUpWins = totalDown − totalUp×0.9.
func ComputeProjection(in ProjectionInput) ProfitProjection {
	p := ProfitProjection{
		RoundID:                   in.RoundID,
		TotalUpStake:              decimal.Zero,
		TotalDownStake:            decimal.Zero,
		ExemptStake:               decimal.Zero,
		ProjectedProfitIfUpWins:   decimal.Zero,
		ProjectedProfitIfDownWins: decimal.Zero,
		ComputedAt:                in.Now,
	}

	upLiability := decimal.Zero
	downLiability := decimal.Zero
	for _, w := range in.Wagers {
		if in.Exempt != nil && in.Exempt(w.WalletAddress) {
			p.ExemptStake = p.ExemptStake.Add(w.Amount)
			continue
		}
		switch w.Direction {
		case Up:
			p.TotalUpStake = p.TotalUpStake.Add(w.Amount)
			upLiability = upLiability.Add(w.Liability())
		case Down:
			p.TotalDownStake = p.TotalDownStake.Add(w.Amount)
			downLiability = downLiability.Add(w.Liability())
		}
	}

	p.ProjectedProfitIfUpWins = p.TotalDownStake.Sub(upLiability)
	p.ProjectedProfitIfDownWins = p.TotalUpStake.Sub(downLiability)

	switch p.ProjectedProfitIfUpWins.Cmp(p.ProjectedProfitIfDownWins) {
	case 1:
		p.RecommendedOutcome = Up
	case -1:
		p.RecommendedOutcome = Down
	default:
		// Empate: el lado que pide menos movimiento desde el precio actual.
		if in.CurrentPrice.GreaterThanOrEqual(in.StartPrice) {
			p.RecommendedOutcome = Up
		} else {
			p.RecommendedOutcome = Down
		}
	}

	best := p.ProfitIf(p.RecommendedOutcome)
	roomToPush := !p.ProjectedProfitIfUpWins.Equal(p.ProjectedProfitIfDownWins)
	p.SteeringRequired = best.IsNegative() || (!in.TargetAchieved && roomToPush)
	return p
}

// ProfitIf devuelve el profit proyectado si gana la dirección dada.
func (p ProfitProjection) ProfitIf(d Direction) decimal.Decimal {
	if d == Up {
		return p.ProjectedProfitIfUpWins
	}
	return p.ProjectedProfitIfDownWins
}

// TotalStake devuelve el stake total considerado (sin exentos).
func (p ProfitProjection) TotalStake() decimal.Decimal {
	return p.TotalUpStake.Add(p.TotalDownStake)
}
