package scheduler

// scheduler.go: RoundScheduler, dueño del tiempo y de la ronda abierta.
//
// Una sola goroutine (Run) avanza la máquina de estados en cada tick:
//
//	BETTING ──lockTime──▶ LOCKED ──endTime──▶ SETTLING ──commit──▶ COMPLETED ─▶ nueva BETTING
//
// La ronda solo la muta esta goroutine; el resto lee copias vía CurrentRound.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/application/ledger"
	"github.com/alejandrodnm/updown/internal/application/pricefeed"
	"github.com/alejandrodnm/updown/internal/application/risk"
	"github.com/alejandrodnm/updown/internal/application/settlement"
	"github.com/alejandrodnm/updown/internal/application/steering"
	"github.com/alejandrodnm/updown/internal/application/target"
	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

const (
	DefaultBettingWindow          = 25 * time.Second
	DefaultLockBuffer             = 5 * time.Second
	DefaultTickInterval           = time.Second
	DefaultSettlementPriceTimeout = 10 * time.Second
	defaultPriceMaxAge            = 3 * time.Second
	defaultPriceRetryWait         = 500 * time.Millisecond
)

// Config contiene los tiempos de una ronda.
type Config struct {
	BettingWindow          time.Duration
	LockBuffer             time.Duration
	TickInterval           time.Duration
	SettlementPriceTimeout time.Duration // espera máxima por un precio fresco al liquidar
	PriceMaxAge            time.Duration // antigüedad máxima aceptada para un precio
	PriceRetryWait         time.Duration
	MaxRounds              int // 0 = sin límite
}

func (c *Config) setDefaults() {
	if c.BettingWindow <= 0 {
		c.BettingWindow = DefaultBettingWindow
	}
	if c.LockBuffer <= 0 {
		c.LockBuffer = DefaultLockBuffer
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.SettlementPriceTimeout <= 0 {
		c.SettlementPriceTimeout = DefaultSettlementPriceTimeout
	}
	if c.PriceMaxAge <= 0 {
		c.PriceMaxAge = defaultPriceMaxAge
	}
	if c.PriceRetryWait <= 0 {
		c.PriceRetryWait = defaultPriceRetryWait
	}
}

// Deps agrupa los componentes que orquesta el scheduler.
type Deps struct {
	Store      ports.RoundStore
	Feed       *pricefeed.Feed
	Ledger     *ledger.Ledger
	Steering   *steering.Steerer
	Settlement *settlement.Engine
	Target     *target.Tracker
	Risk       *risk.Tracker
	Events     ports.Broadcaster // puede ser nil
}

// Scheduler implementa el RoundScheduler.
type Scheduler struct {
	cfg   Config
	deps  Deps
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	mu         sync.RWMutex
	current    *domain.Round
	lastNumber int64
	completed  int
}

// Option configura un Scheduler.
type Option func(*Scheduler)

// WithClock reemplaza reloj y espera (tests).
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) Option {
	return func(s *Scheduler) {
		s.now = now
		s.sleep = sleep
	}
}

// New crea el scheduler.
func New(cfg Config, deps Deps, opts ...Option) *Scheduler {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Run avanza la máquina de estados hasta que ctx se cancele o se completen MaxRounds.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("scheduler: running",
		"betting_window", s.cfg.BettingWindow,
		"lock_buffer", s.cfg.LockBuffer,
		"tick", s.cfg.TickInterval,
	)

	for {
		if err := s.Step(ctx); err != nil {
			slog.Error("scheduler: step failed", "err", err)
		}
		if s.done() {
			slog.Info("scheduler: round limit reached", "rounds", s.Completed())
			return nil
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

// Step ejecuta un tick. Exportado para tests y para conducir el scheduler a mano.
func (s *Scheduler) Step(ctx context.Context) error {
	if err := s.deps.Feed.Tick(ctx); err != nil {
		slog.Debug("scheduler: price tick failed", "err", err)
	}

	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if cur == nil {
		if s.done() {
			return nil
		}
		return s.startRound(ctx)
	}

	round := *cur
	now := s.now()

	switch round.Status {
	case domain.RoundBetting, domain.RoundLocked:
		round.CurrentPrice = s.deps.Feed.Current()
		if _, err := s.deps.Steering.Evaluate(ctx, round, now); err != nil {
			slog.Warn("scheduler: steering evaluation failed", "round", round.ID, "err", err)
		}
		round.CurrentPrice = s.deps.Feed.Current()
		s.set(round)

		if round.Status == domain.RoundBetting && !now.Before(round.LockTime) {
			return s.lock(ctx, round)
		}
		if round.Status == domain.RoundLocked && !now.Before(round.EndTime) {
			return s.settle(ctx, round)
		}
	case domain.RoundSettling:
		// Un settlement anterior falló antes del commit: se reintenta.
		return s.settle(ctx, round)
	}
	return nil
}

func (s *Scheduler) startRound(ctx context.Context) error {
	now := s.now()

	if _, err := s.deps.Target.EnsureDay(ctx, now); err != nil {
		slog.Warn("scheduler: daily target unavailable", "err", err)
	}
	if _, err := s.deps.Settlement.RetryPending(ctx); err != nil {
		slog.Warn("scheduler: retry pending payouts", "err", err)
	}

	price, err := s.deps.Feed.Snapshot(s.cfg.PriceMaxAge)
	if err != nil {
		return fmt.Errorf("scheduler.startRound: %w", err)
	}

	round := domain.Round{
		ID:           uuid.NewString(),
		Number:       s.lastNumber + 1,
		StartTime:    now,
		LockTime:     now.Add(s.cfg.BettingWindow),
		EndTime:      now.Add(s.cfg.BettingWindow + s.cfg.LockBuffer),
		StartPrice:   price,
		CurrentPrice: price,
		Status:       domain.RoundBetting,
		HouseProfit:  decimal.Zero,
	}
	if err := s.deps.Store.SaveRound(ctx, round); err != nil {
		return fmt.Errorf("scheduler.startRound: %w", err)
	}

	s.deps.Steering.Reset()
	s.deps.Ledger.Open(round.ID)
	s.lastNumber = round.Number
	s.transition(round)

	slog.Info("scheduler: round open",
		"round", round.ID, "number", round.Number, "start_price", price.String(), "lock_at", round.LockTime)
	return nil
}

func (s *Scheduler) lock(ctx context.Context, round domain.Round) error {
	s.deps.Ledger.Close(round.ID)
	round.Status = domain.RoundLocked
	round.CurrentPrice = s.deps.Feed.Current()
	if err := s.deps.Store.SaveRound(ctx, round); err != nil {
		slog.Warn("scheduler: could not persist lock", "round", round.ID, "err", err)
	}
	s.transition(round)
	slog.Info("scheduler: round locked", "round", round.ID, "number", round.Number, "price", round.CurrentPrice.String())
	return nil
}

func (s *Scheduler) settle(ctx context.Context, round domain.Round) error {
	aborted := round.Aborted
	var final decimal.Decimal

	if round.FinalPrice != nil {
		final = *round.FinalPrice
	} else {
		round.Status = domain.RoundSettling
		s.transition(round)

		price, err := s.finalPrice(ctx)
		switch {
		case err == nil:
			final = price
		case ctx.Err() != nil:
			return fmt.Errorf("scheduler.settle: %w", ctx.Err())
		default:
			slog.Error("scheduler: no fresh price, aborting round", "round", round.ID, "err", err)
			aborted = true
			final = s.deps.Feed.Current()
			round.Aborted = true
			round.NeedsReview = true
			round.ReviewReason = domain.ReviewPriceUnavailable
		}
		round.FinalPrice = &final
	}

	rep, err := s.deps.Settlement.Settle(ctx, round, final, aborted)
	if err != nil && !errors.Is(err, domain.ErrSettlementFatal) {
		// Nada se aplicó: la ronda queda en SETTLING con su precio final y se reintenta.
		s.set(round)
		return fmt.Errorf("scheduler.settle: %w", err)
	}
	if err != nil {
		slog.Error("scheduler: settlement needs reconciliation", "round", round.ID, "err", err)
	}

	return s.complete(ctx, rep.Round)
}

// finalPrice espera un precio fresco hasta SettlementPriceTimeout.
func (s *Scheduler) finalPrice(ctx context.Context) (decimal.Decimal, error) {
	deadline := s.now().Add(s.cfg.SettlementPriceTimeout)
	for {
		price, err := s.deps.Feed.Snapshot(s.cfg.PriceMaxAge)
		if err == nil {
			return price, nil
		}
		if !s.now().Before(deadline) || ctx.Err() != nil {
			return decimal.Zero, err
		}
		s.sleep(ctx, s.cfg.PriceRetryWait)
		if err := s.deps.Feed.Tick(ctx); err != nil {
			slog.Debug("scheduler: waiting for settlement price", "err", err)
		}
	}
}

func (s *Scheduler) complete(ctx context.Context, round domain.Round) error {
	round.Status = domain.RoundCompleted
	if err := s.deps.Store.SaveRound(ctx, round); err != nil {
		// Sin COMPLETED persistido no hay ronda nueva: se reintenta en el próximo tick.
		round.Status = domain.RoundSettling
		s.set(round)
		return fmt.Errorf("scheduler.complete: %w", err)
	}

	s.deps.Ledger.Forget(round.ID)
	s.deps.Steering.Reset()
	s.transition(round)

	s.mu.Lock()
	s.current = nil
	s.completed++
	s.mu.Unlock()

	slog.Info("scheduler: round completed",
		"round", round.ID,
		"number", round.Number,
		"house_profit", round.HouseProfit.String(),
		"needs_review", round.NeedsReview,
	)
	return nil
}

// Recover cierra las rondas que quedaron a medias tras un crash.
// BETTING/LOCKED se liquidan como abortadas; SETTLING se re-liquida con su
// precio final guardado.
func (s *Scheduler) Recover(ctx context.Context) error {
	if err := s.deps.Risk.Load(ctx); err != nil {
		return fmt.Errorf("scheduler.Recover: %w", err)
	}

	last, err := s.deps.Store.LastRoundNumber(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Recover: %w", err)
	}
	s.lastNumber = last

	rounds, err := s.deps.Store.GetUnfinishedRounds(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Recover: %w", err)
	}

	for _, r := range rounds {
		final := r.CurrentPrice
		aborted := true
		if r.Status == domain.RoundSettling && r.FinalPrice != nil {
			final = *r.FinalPrice
			aborted = r.Aborted
		} else {
			r.Aborted = true
			r.NeedsReview = true
			r.ReviewReason = domain.ReviewRecoveredAbort
		}
		slog.Warn("scheduler: recovering unfinished round",
			"round", r.ID, "number", r.Number, "status", r.Status, "aborted", aborted)

		rep, err := s.deps.Settlement.Settle(ctx, r, final, aborted)
		if err != nil && !errors.Is(err, domain.ErrSettlementFatal) {
			return fmt.Errorf("scheduler.Recover: round %s: %w", r.ID, err)
		}
		done := rep.Round
		done.Status = domain.RoundCompleted
		if err := s.deps.Store.SaveRound(ctx, done); err != nil {
			return fmt.Errorf("scheduler.Recover: round %s: %w", r.ID, err)
		}
	}

	if _, err := s.deps.Settlement.RetryPending(ctx); err != nil {
		slog.Warn("scheduler: retry pending payouts", "err", err)
	}
	if len(rounds) > 0 {
		slog.Info("scheduler: recovery done", "rounds", len(rounds))
	}
	return nil
}

func (s *Scheduler) shutdown() {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur != nil {
		// La ronda queda abierta en storage; Recover la abortará en el próximo arranque.
		s.deps.Ledger.Close(cur.ID)
		slog.Warn("scheduler: stopped with an open round", "round", cur.ID, "status", cur.Status)
	}
}

func (s *Scheduler) set(round domain.Round) {
	s.mu.Lock()
	s.current = &round
	s.mu.Unlock()
}

// transition guarda la ronda en memoria y emite round_state.
func (s *Scheduler) transition(round domain.Round) {
	s.set(round)
	if s.deps.Events != nil {
		snap := round.Snapshot(s.now())
		s.deps.Events.Broadcast(domain.Event{
			Type:  domain.EventRoundState,
			Round: &snap,
			TS:    s.now().UnixMilli(),
		})
	}
}

func (s *Scheduler) done() bool {
	return s.cfg.MaxRounds > 0 && s.Completed() >= s.cfg.MaxRounds
}

// Completed devuelve cuántas rondas completó este proceso.
func (s *Scheduler) Completed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}

// --- query surface ---

// CurrentRound devuelve la vista de la ronda en curso. ok=false entre rondas.
func (s *Scheduler) CurrentRound() (domain.RoundSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.RoundSnapshot{}, false
	}
	return s.current.Snapshot(s.now()), true
}

// WagersForRound devuelve las apuestas de una ronda.
func (s *Scheduler) WagersForRound(ctx context.Context, roundID string) ([]domain.Wager, error) {
	return s.deps.Ledger.WagersForRound(ctx, roundID)
}

// Projection devuelve la última proyección de la ronda.
func (s *Scheduler) Projection(roundID string) (domain.ProfitProjection, bool) {
	return s.deps.Steering.Projection(roundID)
}

// DailyTarget devuelve el objetivo del día en curso.
func (s *Scheduler) DailyTarget() (domain.DailyTarget, bool) {
	return s.deps.Target.Current()
}

// WalletRiskState devuelve el estado de riesgo de un wallet.
func (s *Scheduler) WalletRiskState(ctx context.Context, wallet string) (domain.WalletRiskState, error) {
	return s.deps.Risk.State(ctx, wallet)
}

// --- command surface ---

// PlaceWager coloca una apuesta en la ronda abierta.
func (s *Scheduler) PlaceWager(ctx context.Context, wallet string, direction domain.Direction, amount decimal.Decimal) (domain.Wager, error) {
	s.mu.RLock()
	roundID := ""
	if s.current != nil && s.current.Status == domain.RoundBetting {
		roundID = s.current.ID
	}
	s.mu.RUnlock()

	if roundID == "" {
		return domain.Wager{}, fmt.Errorf("scheduler.PlaceWager: no open round: %w", domain.ErrRoundClosed)
	}
	return s.deps.Ledger.PlaceWager(ctx, roundID, wallet, amount, direction)
}
