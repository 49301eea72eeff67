package steering

// steerer.go: ProfitSteering.
//
// En cada tick recalcula la proyección de la ronda abierta y, si hace falta,
// inyecta un trade sintético en el feed para acercar el precio al lado que
// conviene a la casa. Es solo consultivo: el settlement usa siempre el precio
// final real.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/domain"
)

const defaultQuietWindow = time.Second

var (
	defaultMinMarginPct = decimal.RequireFromString("0.0005")
	defaultMaxImpactPct = decimal.RequireFromString("0.002")
)

// WagerSource da las apuestas de una ronda.
type WagerSource interface {
	WagersForRound(ctx context.Context, roundID string) ([]domain.Wager, error)
}

// Market es el feed sobre el que se empuja el precio.
type Market interface {
	Current() decimal.Decimal
	Liquidity() decimal.Decimal
	InjectTrade(direction domain.Direction, size decimal.Decimal) decimal.Decimal
}

// TargetView expone el progreso del objetivo diario.
type TargetView interface {
	TargetAchieved() bool
	Aggressiveness(projectedNegative bool) float64
}

// WhitelistView indica qué wallets quedan fuera de la proyección.
type WhitelistView interface {
	IsWhitelisted(wallet string, now time.Time) bool
}

// Config contiene los parámetros del steering.
type Config struct {
	Enabled      bool
	MinMarginPct decimal.Decimal // margen mínimo sobre el precio inicial en el lado recomendado
	MaxImpactPct decimal.Decimal // impacto máximo por tick con agresividad 1
	QuietWindow  time.Duration   // sin trades en este tramo final de BETTING
}

func (c *Config) setDefaults() {
	if !c.MinMarginPct.IsPositive() {
		c.MinMarginPct = defaultMinMarginPct
	}
	if !c.MaxImpactPct.IsPositive() {
		c.MaxImpactPct = defaultMaxImpactPct
	}
	if c.QuietWindow <= 0 {
		c.QuietWindow = defaultQuietWindow
	}
}

// Steerer implementa ProfitSteering.
type Steerer struct {
	cfg       Config
	wagers    WagerSource
	market    Market
	target    TargetView
	whitelist WhitelistView

	mu   sync.RWMutex
	last *domain.ProfitProjection
}

// New crea el Steerer.
func New(cfg Config, wagers WagerSource, market Market, target TargetView, whitelist WhitelistView) *Steerer {
	cfg.setDefaults()
	return &Steerer{
		cfg:       cfg,
		wagers:    wagers,
		market:    market,
		target:    target,
		whitelist: whitelist,
	}
}

// Evaluate recalcula la proyección de la ronda y empuja el precio si hace falta.
func (s *Steerer) Evaluate(ctx context.Context, round domain.Round, now time.Time) (domain.ProfitProjection, error) {
	wagers, err := s.wagers.WagersForRound(ctx, round.ID)
	if err != nil {
		return domain.ProfitProjection{}, fmt.Errorf("steering.Evaluate: %w", err)
	}

	current := s.market.Current()
	proj := domain.ComputeProjection(domain.ProjectionInput{
		RoundID:        round.ID,
		Wagers:         wagers,
		StartPrice:     round.StartPrice,
		CurrentPrice:   current,
		TargetAchieved: s.target.TargetAchieved(),
		Exempt:         func(wallet string) bool { return s.whitelist.IsWhitelisted(wallet, now) },
		Now:            now,
	})

	s.mu.Lock()
	s.last = &proj
	s.mu.Unlock()

	if !s.cfg.Enabled || !proj.SteeringRequired || !round.Status.IsOpen() {
		return proj, nil
	}
	if round.Status == domain.RoundBetting && !now.Before(round.LockTime.Add(-s.cfg.QuietWindow)) {
		return proj, nil
	}

	s.push(round, proj, current)
	return proj, nil
}

// push inyecta un trade hacia el lado recomendado, acotado por la agresividad.
func (s *Steerer) push(round domain.Round, proj domain.ProfitProjection, current decimal.Decimal) {
	dir := proj.RecommendedOutcome
	margin := round.StartPrice.Mul(s.cfg.MinMarginPct)

	var gap decimal.Decimal
	if dir == domain.Up {
		gap = round.StartPrice.Add(margin).Sub(current)
	} else {
		gap = current.Sub(round.StartPrice.Sub(margin))
	}
	if !gap.IsPositive() || !current.IsPositive() {
		return
	}

	negative := proj.ProfitIf(dir).IsNegative()
	aggr := decimal.NewFromFloat(s.target.Aggressiveness(negative))
	step := gap.Div(current)
	if maxStep := s.cfg.MaxImpactPct.Mul(aggr); step.GreaterThan(maxStep) {
		step = maxStep
	}
	size := step.Mul(s.market.Liquidity())

	next := s.market.InjectTrade(dir, size)
	slog.Debug("steering: trade injected",
		"round", round.ID,
		"direction", dir,
		"size", size.StringFixed(2),
		"price", next.String(),
		"profit_if_up", proj.ProjectedProfitIfUpWins.String(),
		"profit_if_down", proj.ProjectedProfitIfDownWins.String(),
	)
}

// Projection devuelve la última proyección calculada para roundID.
func (s *Steerer) Projection(roundID string) (domain.ProfitProjection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil || s.last.RoundID != roundID {
		return domain.ProfitProjection{}, false
	}
	return *s.last, true
}

// Reset descarta la proyección (ronda completada).
func (s *Steerer) Reset() {
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
}
