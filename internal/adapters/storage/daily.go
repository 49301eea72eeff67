package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

const dateLayout = "2006-01-02"

// SaveDailyTarget hace upsert del objetivo de un día.
func (s *SQLiteStorage) SaveDailyTarget(ctx context.Context, t domain.DailyTarget) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_targets
		  (date, start_balance, current_balance, target_percentage, target_amount,
		   achieved_amount, is_target_achieved, total_rounds, profitable_rounds)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(date) DO UPDATE SET
		  current_balance=excluded.current_balance,
		  achieved_amount=excluded.achieved_amount,
		  is_target_achieved=excluded.is_target_achieved,
		  total_rounds=excluded.total_rounds,
		  profitable_rounds=excluded.profitable_rounds`,
		t.Date.Format(dateLayout),
		t.StartBalance.String(), t.CurrentBalance.String(), t.TargetPercentage.String(),
		t.TargetAmount.String(), t.AchievedAmount.String(), boolToInt(t.IsTargetAchieved),
		t.TotalRounds, t.ProfitableRounds,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDailyTarget %s: %w", t.Date.Format(dateLayout), err)
	}
	return nil
}

// GetDailyTarget devuelve el objetivo del día dado o domain.ErrNotFound.
func (s *SQLiteStorage) GetDailyTarget(ctx context.Context, day time.Time) (domain.DailyTarget, error) {
	targets, err := s.queryDailyTargets(ctx, `WHERE date=?`, domain.DayOf(day).Format(dateLayout))
	if err != nil {
		return domain.DailyTarget{}, err
	}
	if len(targets) == 0 {
		return domain.DailyTarget{}, fmt.Errorf("storage.GetDailyTarget %s: %w", day.Format(dateLayout), domain.ErrNotFound)
	}
	return targets[0], nil
}

// GetDailyTargets devuelve los últimos días, el más reciente primero.
func (s *SQLiteStorage) GetDailyTargets(ctx context.Context, limit int) ([]domain.DailyTarget, error) {
	if limit <= 0 {
		limit = 30
	}
	return s.queryDailyTargets(ctx, `ORDER BY date DESC LIMIT ?`, limit)
}

func (s *SQLiteStorage) queryDailyTargets(ctx context.Context, tail string, args ...any) ([]domain.DailyTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, start_balance, current_balance, target_percentage, target_amount,
		       achieved_amount, is_target_achieved, total_rounds, profitable_rounds
		FROM daily_targets `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryDailyTargets: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyTarget
	for rows.Next() {
		var t domain.DailyTarget
		var date string
		var achieved int
		if err := rows.Scan(&date, &t.StartBalance, &t.CurrentBalance, &t.TargetPercentage,
			&t.TargetAmount, &t.AchievedAmount, &achieved, &t.TotalRounds, &t.ProfitableRounds); err != nil {
			return nil, fmt.Errorf("storage.queryDailyTargets: scan row: %w", err)
		}
		t.Date, _ = time.Parse(dateLayout, date)
		t.IsTargetAchieved = achieved != 0
		out = append(out, t)
	}
	return out, rows.Err()
}
