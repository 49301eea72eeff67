package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskPolicy contiene los umbrales de rachas y las duraciones de cooldown.
type RiskPolicy struct {
	WinStreakThreshold    int // blacklist cuando consecutiveWins lo supera
	LossStreakThreshold   int // whitelist cuando consecutiveLosses lo supera
	BlacklistCooldown     time.Duration
	WhitelistCooldown     time.Duration
	WhitelistBlocksWagers bool
}

// DefaultRiskPolicy: 5 victorias seguidas → blacklist, 8 derrotas seguidas → whitelist.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		WinStreakThreshold:    4,
		LossStreakThreshold:   7,
		BlacklistCooldown:     30 * time.Minute,
		WhitelistCooldown:     30 * time.Minute,
		WhitelistBlocksWagers: true,
	}
}

// WalletRiskState is the per-wallet streak and restriction record.
type WalletRiskState struct {
	WalletAddress     string
	ConsecutiveWins   int
	ConsecutiveLosses int
	TotalWagers       int
	TotalWagerAmount  decimal.Decimal
	TotalWinAmount    decimal.Decimal
	TotalLossAmount   decimal.Decimal
	IsBlacklisted     bool
	IsWhitelisted     bool
	CooldownUntil     time.Time
	UpdatedAt         time.Time
}

// NewWalletRiskState crea el estado vacío de un wallet nuevo.
func NewWalletRiskState(wallet string) WalletRiskState {
	return WalletRiskState{
		WalletAddress:    wallet,
		TotalWagerAmount: decimal.Zero,
		TotalWinAmount:   decimal.Zero,
		TotalLossAmount:  decimal.Zero,
	}
}

// ClearExpired limpia los flags si el cooldown ya pasó. Devuelve true si cambió algo.
func (s *WalletRiskState) ClearExpired(now time.Time) bool {
	if !s.IsBlacklisted && !s.IsWhitelisted {
		return false
	}
	if now.Before(s.CooldownUntil) {
		return false
	}
	s.IsBlacklisted = false
	s.IsWhitelisted = false
	s.CooldownUntil = time.Time{}
	s.UpdatedAt = now
	return true
}

// Restricted devuelve true si el wallet no puede apostar en este momento.
func (s WalletRiskState) Restricted(now time.Time, p RiskPolicy) bool {
	if !now.Before(s.CooldownUntil) {
		return false
	}
	if s.IsBlacklisted {
		return true
	}
	return s.IsWhitelisted && p.WhitelistBlocksWagers
}

// ActiveWhitelist devuelve true si el wallet tiene la whitelist vigente.
func (s WalletRiskState) ActiveWhitelist(now time.Time) bool {
	return s.IsWhitelisted && now.Before(s.CooldownUntil)
}

// Record aplica el resultado de una apuesta liquidada.
//
// WIN suma a la racha de victorias y resetea la de derrotas; LOSE al revés;
// DRAW no toca ninguna racha. Después evalúa umbrales: victorias primero.
func (s *WalletRiskState) Record(w Wager, now time.Time, p RiskPolicy) {
	s.TotalWagers++
	s.TotalWagerAmount = s.TotalWagerAmount.Add(w.Amount)

	switch w.Result {
	case ResultWin:
		s.ConsecutiveWins++
		s.ConsecutiveLosses = 0
		s.TotalWinAmount = s.TotalWinAmount.Add(w.PayoutAmount.Sub(w.Amount))
	case ResultLose:
		s.ConsecutiveLosses++
		s.ConsecutiveWins = 0
		s.TotalLossAmount = s.TotalLossAmount.Add(w.Amount)
	}

	switch {
	case s.ConsecutiveWins > p.WinStreakThreshold:
		s.IsBlacklisted = true
		s.IsWhitelisted = false
		s.CooldownUntil = now.Add(p.BlacklistCooldown)
	case s.ConsecutiveLosses > p.LossStreakThreshold:
		s.IsWhitelisted = true
		s.IsBlacklisted = false
		s.CooldownUntil = now.Add(p.WhitelistCooldown)
	}
	s.UpdatedAt = now
}
