package settlement

// engine.go: SettlementEngine.
//
// Orden de un settlement:
//  1. resultado de cada apuesta pendiente contra el precio final
//  2. UNA transacción: apuestas liquidadas + outbox de pagos + ronda (SETTLING)
//  3. tras el commit: rachas de riesgo, objetivo diario, envío de pagos
//
// Si el proceso muere entre 2 y 3 los pagos siguen en el outbox y RetryPending
// los entrega después. Repetir Settle no liquida nada dos veces.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

const (
	defaultPayoutTimeout = 5 * time.Second
	defaultPayoutRetries = 3
	defaultRetryWait     = 250 * time.Millisecond
	defaultPayoutWorkers = 4
)

// Book es la parte del ledger que usa el settlement.
type Book interface {
	WagersForRound(ctx context.Context, roundID string) ([]domain.Wager, error)
	SettleRound(ctx context.Context, round domain.Round, settlements []domain.WagerSettlement) ([]string, error)
}

// Store da acceso a rondas y al outbox de pagos.
type Store interface {
	GetRound(ctx context.Context, id string) (domain.Round, error)
	SaveRound(ctx context.Context, r domain.Round) error
	GetPayouts(ctx context.Context, roundID string) ([]domain.PayoutInstruction, error)
	GetUndeliveredPayouts(ctx context.Context) ([]domain.PayoutInstruction, error)
	MarkPayoutSent(ctx context.Context, wagerID string, sentAt time.Time) error
	MarkPayoutFailed(ctx context.Context, wagerID string, attempts int, lastErr string) error
}

// RiskRecorder actualiza las rachas por wallet.
type RiskRecorder interface {
	Record(ctx context.Context, w domain.Wager, now time.Time) (domain.WalletRiskState, error)
}

// TargetRecorder acumula el profit del día.
type TargetRecorder interface {
	RecordRound(ctx context.Context, now time.Time, houseProfit decimal.Decimal) (domain.DailyTarget, error)
}

// Config contiene los parámetros de entrega de pagos.
type Config struct {
	PayoutTimeout time.Duration // por intento
	PayoutRetries int
	RetryWait     time.Duration // base del backoff exponencial
	PayoutWorkers int           // envíos simultáneos
}

// Report es el resultado de un Settle.
type Report struct {
	Round         domain.Round
	Summary       domain.SettlementSummary
	NewlySettled  int
	FailedPayouts int
}

// Engine implementa el SettlementEngine.
type Engine struct {
	cfg     Config
	book    Book
	store   Store
	risk    RiskRecorder
	target  TargetRecorder
	balance ports.BalanceService
	events  ports.Broadcaster
	now     func() time.Time
}

// New crea el engine. events puede ser nil.
func New(cfg Config, book Book, store Store, risk RiskRecorder, target TargetRecorder, balance ports.BalanceService, events ports.Broadcaster) *Engine {
	if cfg.PayoutTimeout <= 0 {
		cfg.PayoutTimeout = defaultPayoutTimeout
	}
	if cfg.PayoutRetries < 0 {
		cfg.PayoutRetries = defaultPayoutRetries
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.PayoutWorkers <= 0 {
		cfg.PayoutWorkers = defaultPayoutWorkers
	}
	return &Engine{
		cfg:     cfg,
		book:    book,
		store:   store,
		risk:    risk,
		target:  target,
		balance: balance,
		events:  events,
		now:     time.Now,
	}
}

// SetClock reemplaza el reloj (tests).
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Settle liquida la ronda contra finalPrice. Con aborted todas las apuestas
// son DRAW y recuperan su stake.
//
// Devuelve domain.ErrSettlementFatal (envuelto) si algún pago agotó sus
// reintentos: la ronda queda marcada NeedsReview pero el settlement en sí
// está hecho. Cualquier otro error significa que no se aplicó nada.
func (e *Engine) Settle(ctx context.Context, round domain.Round, finalPrice decimal.Decimal, aborted bool) (Report, error) {
	now := e.now()

	alreadyCommitted := false
	if stored, err := e.store.GetRound(ctx, round.ID); err == nil {
		alreadyCommitted = stored.Status == domain.RoundSettling || stored.Status == domain.RoundCompleted
		if alreadyCommitted {
			// Una ronda ya liquidada manda sobre lo que pase el caller: mismo
			// precio final, mismo estado, mismas marcas de revisión.
			round = stored
			if stored.FinalPrice != nil {
				finalPrice = *stored.FinalPrice
			}
			aborted = stored.Aborted
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Report{}, fmt.Errorf("settlement.Settle %s: %w", round.ID, err)
	}

	wagers, err := e.book.WagersForRound(ctx, round.ID)
	if err != nil {
		return Report{}, fmt.Errorf("settlement.Settle %s: %w", round.ID, err)
	}

	var settlements []domain.WagerSettlement
	for i, w := range wagers {
		if w.IsSettled {
			continue
		}
		result, payout := w.Settle(round.StartPrice, finalPrice, aborted)
		settlements = append(settlements, domain.WagerSettlement{
			WagerID: w.ID, Result: result, PayoutAmount: payout, SettledAt: now,
		})
		at := now
		wagers[i].IsSettled = true
		wagers[i].Result = result
		wagers[i].PayoutAmount = payout
		wagers[i].SettledAt = &at
	}

	final := finalPrice
	round.FinalPrice = &final
	round.CurrentPrice = finalPrice
	if round.Status != domain.RoundCompleted {
		round.Status = domain.RoundSettling
	}
	round.Aborted = round.Aborted || aborted
	round.HouseProfit = domain.HouseProfit(wagers)

	settledIDs, err := e.book.SettleRound(ctx, round, settlements)
	if err != nil {
		return Report{}, fmt.Errorf("settlement.Settle %s: %w", round.ID, err)
	}

	newly := make(map[string]bool, len(settledIDs))
	for _, id := range settledIDs {
		newly[id] = true
	}
	for _, w := range wagers {
		if !newly[w.ID] {
			continue
		}
		if _, err := e.risk.Record(ctx, w, now); err != nil {
			slog.Error("settlement: risk update failed", "wager", w.ID, "wallet", w.WalletAddress, "err", err)
		}
	}

	if !alreadyCommitted {
		if _, err := e.target.RecordRound(ctx, now, round.HouseProfit); err != nil {
			slog.Error("settlement: daily target update failed", "round", round.ID, "err", err)
		}
	}

	failed, err := e.deliverRound(ctx, round.ID)
	if err != nil {
		return Report{}, fmt.Errorf("settlement.Settle %s: %w", round.ID, err)
	}
	if failed > 0 {
		round.NeedsReview = true
		if round.ReviewReason == "" {
			round.ReviewReason = domain.ReviewPayoutFailed
		}
		if err := e.store.SaveRound(ctx, round); err != nil {
			slog.Error("settlement: could not flag round for review", "round", round.ID, "err", err)
		}
	}

	report := Report{
		Round:         round,
		Summary:       summarize(round, wagers),
		NewlySettled:  len(settledIDs),
		FailedPayouts: failed,
	}

	slog.Info("settlement: round settled",
		"round", round.ID,
		"number", round.Number,
		"outcome", report.Summary.Outcome,
		"wagers", len(wagers),
		"newly_settled", len(settledIDs),
		"house_profit", round.HouseProfit.String(),
		"aborted", round.Aborted,
	)

	if e.events != nil && (len(settledIDs) > 0 || !alreadyCommitted) {
		summary := report.Summary
		e.events.Broadcast(domain.Event{
			Type:       domain.EventSettlement,
			Settlement: &summary,
			TS:         now.UnixMilli(),
		})
	}

	if failed > 0 {
		return report, fmt.Errorf("settlement.Settle %s: %d payouts undelivered: %w",
			round.ID, failed, domain.ErrSettlementFatal)
	}
	return report, nil
}

// RetryPending reintenta las instrucciones PENDING o FAILED de rondas anteriores.
// Devuelve cuántas se entregaron.
func (e *Engine) RetryPending(ctx context.Context) (int, error) {
	pending, err := e.store.GetUndeliveredPayouts(ctx)
	if err != nil {
		return 0, fmt.Errorf("settlement.RetryPending: %w", err)
	}
	delivered, _ := e.dispatch(ctx, pending)
	if len(pending) > 0 {
		slog.Info("settlement: pending payouts retried", "pending", len(pending), "delivered", delivered)
	}
	return delivered, nil
}

func (e *Engine) deliverRound(ctx context.Context, roundID string) (int, error) {
	payouts, err := e.store.GetPayouts(ctx, roundID)
	if err != nil {
		return 0, err
	}
	_, failed := e.dispatch(ctx, payouts)
	return failed, nil
}

// deliver envía un pago con timeout por intento y backoff exponencial.
// La ref "payout:<wagerID>" hace el crédito idempotente en el servicio de balances.
func (e *Engine) deliver(ctx context.Context, p domain.PayoutInstruction) bool {
	if !p.Amount.IsPositive() {
		if err := e.store.MarkPayoutSent(ctx, p.WagerID, e.now()); err != nil {
			slog.Error("settlement: mark zero payout", "wager", p.WagerID, "err", err)
			return false
		}
		return true
	}

	ref := "payout:" + p.WagerID
	var lastErr error
	attempts := 0
retry:
	for attempt := 0; attempt <= e.cfg.PayoutRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt-1))) * e.cfg.RetryWait
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			}
		}
		attempts++
		cctx, cancel := context.WithTimeout(ctx, e.cfg.PayoutTimeout)
		lastErr = e.balance.Credit(cctx, p.WalletAddress, p.Amount, ref)
		cancel()
		if lastErr == nil {
			if err := e.store.MarkPayoutSent(ctx, p.WagerID, e.now()); err != nil {
				// El crédito ya se hizo; el reintento lo absorberá la idempotencia por ref.
				slog.Error("settlement: payout sent but not recorded", "wager", p.WagerID, "err", err)
				return false
			}
			return true
		}
		slog.Warn("settlement: payout attempt failed",
			"wager", p.WagerID, "wallet", p.WalletAddress, "attempt", attempts, "err", lastErr)
	}

	if err := e.store.MarkPayoutFailed(context.WithoutCancel(ctx), p.WagerID, attempts, lastErr.Error()); err != nil {
		slog.Error("settlement: mark payout failed", "wager", p.WagerID, "err", err)
	}
	slog.Error("settlement: payout undelivered, needs reconciliation",
		"wager", p.WagerID, "round", p.RoundID, "wallet", p.WalletAddress,
		"amount", p.Amount.String(), "attempts", attempts)
	return false
}

func summarize(round domain.Round, wagers []domain.Wager) domain.SettlementSummary {
	s := domain.SettlementSummary{
		RoundID:      round.ID,
		Number:       round.Number,
		StartPrice:   round.StartPrice,
		TotalStaked:  decimal.Zero,
		TotalPayout:  decimal.Zero,
		HouseProfit:  round.HouseProfit,
		Aborted:      round.Aborted,
		NeedsReview:  round.NeedsReview,
		ReviewReason: round.ReviewReason,
		Wagers:       len(wagers),
	}
	if round.FinalPrice != nil {
		s.FinalPrice = *round.FinalPrice
	}
	if !round.Aborted {
		if dir, ok := round.Outcome(); ok {
			s.Outcome = dir
		}
	}
	for _, w := range wagers {
		s.TotalStaked = s.TotalStaked.Add(w.Amount)
		s.TotalPayout = s.TotalPayout.Add(w.PayoutAmount)
		switch w.Result {
		case domain.ResultWin:
			s.Wins++
		case domain.ResultLose:
			s.Losses++
		case domain.ResultDraw:
			s.Draws++
		}
	}
	return s
}
