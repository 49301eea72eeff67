package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/domain"
)

const roundColumns = `id, number, start_time, lock_time, end_time, start_price, current_price,
	final_price, status, house_profit, aborted, needs_review, review_reason`

// SaveRound inserta o actualiza una ronda completa.
func (s *SQLiteStorage) SaveRound(ctx context.Context, r domain.Round) error {
	return saveRound(ctx, s.db, r)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveRound(ctx context.Context, db execer, r domain.Round) error {
	var finalPrice any
	if r.FinalPrice != nil {
		finalPrice = r.FinalPrice.String()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO rounds (`+roundColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			current_price = excluded.current_price,
			final_price   = excluded.final_price,
			status        = excluded.status,
			house_profit  = excluded.house_profit,
			aborted       = excluded.aborted,
			needs_review  = excluded.needs_review,
			review_reason = excluded.review_reason`,
		r.ID, r.Number, formatTime(r.StartTime), formatTime(r.LockTime), formatTime(r.EndTime),
		r.StartPrice.String(), r.CurrentPrice.String(), finalPrice, string(r.Status),
		r.HouseProfit.String(), boolToInt(r.Aborted), boolToInt(r.NeedsReview), r.ReviewReason,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRound %s: %w", r.ID, err)
	}
	return nil
}

// GetRound devuelve la ronda con el id dado o domain.ErrNotFound.
func (s *SQLiteStorage) GetRound(ctx context.Context, id string) (domain.Round, error) {
	rounds, err := s.queryRounds(ctx, `WHERE id=?`, id)
	if err != nil {
		return domain.Round{}, err
	}
	if len(rounds) == 0 {
		return domain.Round{}, fmt.Errorf("storage.GetRound %s: %w", id, domain.ErrNotFound)
	}
	return rounds[0], nil
}

// GetUnfinishedRounds devuelve las rondas que no llegaron a COMPLETED, las más antiguas primero.
func (s *SQLiteStorage) GetUnfinishedRounds(ctx context.Context) ([]domain.Round, error) {
	return s.queryRounds(ctx, `WHERE status <> 'COMPLETED' ORDER BY number ASC`)
}

// GetRecentRounds devuelve las últimas rondas, la más reciente primero.
func (s *SQLiteStorage) GetRecentRounds(ctx context.Context, limit int) ([]domain.Round, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRounds(ctx, `ORDER BY number DESC LIMIT ?`, limit)
}

// LastRoundNumber devuelve el número de la última ronda creada (0 si no hay).
func (s *SQLiteStorage) LastRoundNumber(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(number) FROM rounds`).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("storage.LastRoundNumber: %w", err)
	}
	return n.Int64, nil
}

func (s *SQLiteStorage) queryRounds(ctx context.Context, tail string, args ...any) ([]domain.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roundColumns+` FROM rounds `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryRounds: %w", err)
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryRounds: scan row: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func scanRound(rows *sql.Rows) (domain.Round, error) {
	var r domain.Round
	var start, lock, end, status string
	var finalPrice sql.NullString
	var aborted, review int

	err := rows.Scan(
		&r.ID, &r.Number, &start, &lock, &end, &r.StartPrice, &r.CurrentPrice,
		&finalPrice, &status, &r.HouseProfit, &aborted, &review, &r.ReviewReason,
	)
	if err != nil {
		return r, err
	}
	r.StartTime = parseTime(start)
	r.LockTime = parseTime(lock)
	r.EndTime = parseTime(end)
	r.Status = domain.RoundStatus(status)
	r.Aborted = aborted != 0
	r.NeedsReview = review != 0
	if finalPrice.Valid && finalPrice.String != "" {
		fp, err := decimal.NewFromString(finalPrice.String)
		if err != nil {
			return r, fmt.Errorf("final_price %q: %w", finalPrice.String, err)
		}
		r.FinalPrice = &fp
	}
	return r, nil
}
