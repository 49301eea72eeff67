package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alejandrodnm/updown/internal/domain"
)

const wagerColumns = `id, round_id, wallet, amount, direction, payout_ratio, is_settled,
	result, payout_amount, entry_price, placed_at, settled_at`

// SaveWager inserta una apuesta nueva. Las apuestas no se sobreescriben nunca.
func (s *SQLiteStorage) SaveWager(ctx context.Context, w domain.Wager) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wagers (`+wagerColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.RoundID, w.WalletAddress, w.Amount.String(), string(w.Direction),
		w.PayoutRatio.String(), boolToInt(w.IsSettled), string(w.Result),
		w.PayoutAmount.String(), w.EntryPrice.String(), formatTime(w.PlacedAt), nullTime(w.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveWager %s: %w", w.ID, err)
	}
	return nil
}

// GetWager devuelve la apuesta con el id dado o domain.ErrNotFound.
func (s *SQLiteStorage) GetWager(ctx context.Context, id string) (domain.Wager, error) {
	wagers, err := s.queryWagers(ctx, `WHERE id=?`, id)
	if err != nil {
		return domain.Wager{}, err
	}
	if len(wagers) == 0 {
		return domain.Wager{}, fmt.Errorf("storage.GetWager %s: %w", id, domain.ErrNotFound)
	}
	return wagers[0], nil
}

// GetWagersByRound devuelve las apuestas de una ronda en orden de llegada.
func (s *SQLiteStorage) GetWagersByRound(ctx context.Context, roundID string) ([]domain.Wager, error) {
	return s.queryWagers(ctx, `WHERE round_id=? ORDER BY placed_at ASC, id ASC`, roundID)
}

// MarkWagerSettled liquida una apuesta. El guard is_settled=0 hace que un
// segundo intento no mute nada y devuelva domain.ErrAlreadySettled.
func (s *SQLiteStorage) MarkWagerSettled(ctx context.Context, st domain.WagerSettlement) error {
	return markWagerSettled(ctx, s.db, st)
}

func markWagerSettled(ctx context.Context, db execer, st domain.WagerSettlement) error {
	res, err := db.ExecContext(ctx, `
		UPDATE wagers SET is_settled=1, result=?, payout_amount=?, settled_at=?
		WHERE id=? AND is_settled=0`,
		string(st.Result), st.PayoutAmount.String(), formatTime(st.SettledAt), st.WagerID,
	)
	if err != nil {
		return fmt.Errorf("storage.MarkWagerSettled %s: %w", st.WagerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.MarkWagerSettled %s: rows affected: %w", st.WagerID, err)
	}
	if n == 0 {
		return fmt.Errorf("storage.MarkWagerSettled %s: %w", st.WagerID, domain.ErrAlreadySettled)
	}
	return nil
}

func (s *SQLiteStorage) queryWagers(ctx context.Context, tail string, args ...any) ([]domain.Wager, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+wagerColumns+` FROM wagers `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryWagers: %w", err)
	}
	defer rows.Close()

	var wagers []domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryWagers: scan row: %w", err)
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

func scanWager(rows *sql.Rows) (domain.Wager, error) {
	var w domain.Wager
	var direction, result, placedAt string
	var settled int
	var settledAt sql.NullString

	err := rows.Scan(
		&w.ID, &w.RoundID, &w.WalletAddress, &w.Amount, &direction, &w.PayoutRatio, &settled,
		&result, &w.PayoutAmount, &w.EntryPrice, &placedAt, &settledAt,
	)
	if err != nil {
		return w, err
	}
	w.Direction = domain.Direction(direction)
	w.Result = domain.WagerResult(result)
	w.IsSettled = settled != 0
	w.PlacedAt = parseTime(placedAt)
	w.SettledAt = parseNullTime(settledAt)
	return w, nil
}
