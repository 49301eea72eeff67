package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

const minAggressiveness = 0.25

// Tracker sigue el objetivo de profit del día UTC en curso.
type Tracker struct {
	store ports.DailyStore
	house ports.HouseAccount
	pct   decimal.Decimal

	mu      sync.RWMutex
	current *domain.DailyTarget
}

// New crea el tracker. pct es la fracción del balance de apertura (0.05 = 5%).
func New(store ports.DailyStore, house ports.HouseAccount, pct decimal.Decimal) *Tracker {
	return &Tracker{store: store, house: house, pct: pct}
}

// EnsureDay garantiza que existe el objetivo del día de now. El primer round
// del día lo crea con el balance actual de la casa; si ya existe en storage
// (reinicio a mitad de día) se reutiliza.
func (t *Tracker) EnsureDay(ctx context.Context, now time.Time) (domain.DailyTarget, error) {
	day := domain.DayOf(now)

	t.mu.RLock()
	cur := t.current
	t.mu.RUnlock()
	if cur != nil && cur.Date.Equal(day) {
		return *cur, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && t.current.Date.Equal(day) {
		return *t.current, nil
	}

	dt, err := t.store.GetDailyTarget(ctx, day)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		balance, err := t.house.HouseBalance(ctx)
		if err != nil {
			return domain.DailyTarget{}, fmt.Errorf("target.EnsureDay: house balance: %w", err)
		}
		dt = domain.NewDailyTarget(day, balance, t.pct)
		if err := t.store.SaveDailyTarget(ctx, dt); err != nil {
			return domain.DailyTarget{}, fmt.Errorf("target.EnsureDay: %w", err)
		}
		slog.Info("target: new day",
			"date", day.Format("2006-01-02"),
			"start_balance", dt.StartBalance.String(),
			"target", dt.TargetAmount.String(),
		)
	default:
		return domain.DailyTarget{}, fmt.Errorf("target.EnsureDay: %w", err)
	}

	t.current = &dt
	return dt, nil
}

// Rollover abre el día en curso sin esperar al primer round. Lo dispara el cron de medianoche.
func (t *Tracker) Rollover(ctx context.Context) {
	if _, err := t.EnsureDay(ctx, time.Now()); err != nil {
		slog.Error("target: rollover failed", "err", err)
	}
}

// RecordRound suma el houseProfit de una ronda liquidada al día de now.
// Los errores se devuelven para loguear; nunca deben frenar el settlement.
func (t *Tracker) RecordRound(ctx context.Context, now time.Time, houseProfit decimal.Decimal) (domain.DailyTarget, error) {
	if _, err := t.EnsureDay(ctx, now); err != nil {
		return domain.DailyTarget{}, fmt.Errorf("target.RecordRound: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	wasAchieved := t.current.IsTargetAchieved
	t.current.RecordRound(houseProfit)
	dt := *t.current

	if dt.IsTargetAchieved && !wasAchieved {
		slog.Info("target: daily target achieved",
			"achieved", dt.AchievedAmount.String(), "target", dt.TargetAmount.String(), "rounds", dt.TotalRounds)
	}
	if err := t.store.SaveDailyTarget(ctx, dt); err != nil {
		return dt, fmt.Errorf("target.RecordRound: %w", err)
	}
	return dt, nil
}

// Current devuelve el objetivo en memoria. ok=false antes del primer EnsureDay.
func (t *Tracker) Current() (domain.DailyTarget, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return domain.DailyTarget{}, false
	}
	return *t.current, true
}

// TargetAchieved indica si el objetivo del día ya se cumplió.
func (t *Tracker) TargetAchieved() bool {
	dt, ok := t.Current()
	return ok && dt.IsTargetAchieved
}

// Aggressiveness devuelve el factor [0.25, 1] que escala el impacto del steering.
// Con proyección negativa la casa protege su capital al máximo; si no, empuja
// en proporción a lo que falta del objetivo.
func (t *Tracker) Aggressiveness(projectedNegative bool) float64 {
	if projectedNegative {
		return 1
	}
	dt, ok := t.Current()
	if !ok {
		return 1
	}
	f := dt.RemainingFraction()
	if f < minAggressiveness {
		return minAggressiveness
	}
	return f
}
