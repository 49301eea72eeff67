package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alejandrodnm/updown/internal/domain"
)

// SaveWalletRisk hace upsert del estado de riesgo de un wallet.
func (s *SQLiteStorage) SaveWalletRisk(ctx context.Context, r domain.WalletRiskState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_risk
		  (wallet, consecutive_wins, consecutive_losses, total_wagers, total_wager_amount,
		   total_win_amount, total_loss_amount, is_blacklisted, is_whitelisted, cooldown_until, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(wallet) DO UPDATE SET
		  consecutive_wins=excluded.consecutive_wins,
		  consecutive_losses=excluded.consecutive_losses,
		  total_wagers=excluded.total_wagers,
		  total_wager_amount=excluded.total_wager_amount,
		  total_win_amount=excluded.total_win_amount,
		  total_loss_amount=excluded.total_loss_amount,
		  is_blacklisted=excluded.is_blacklisted,
		  is_whitelisted=excluded.is_whitelisted,
		  cooldown_until=excluded.cooldown_until,
		  updated_at=excluded.updated_at`,
		r.WalletAddress, r.ConsecutiveWins, r.ConsecutiveLosses, r.TotalWagers,
		r.TotalWagerAmount.String(), r.TotalWinAmount.String(), r.TotalLossAmount.String(),
		boolToInt(r.IsBlacklisted), boolToInt(r.IsWhitelisted), nullTimeVal(r.CooldownUntil),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveWalletRisk %s: %w", r.WalletAddress, err)
	}
	return nil
}

// GetWalletRisk devuelve el estado de un wallet o domain.ErrNotFound.
func (s *SQLiteStorage) GetWalletRisk(ctx context.Context, wallet string) (domain.WalletRiskState, error) {
	states, err := s.queryWalletRisk(ctx, `WHERE wallet=?`, wallet)
	if err != nil {
		return domain.WalletRiskState{}, err
	}
	if len(states) == 0 {
		return domain.WalletRiskState{}, fmt.Errorf("storage.GetWalletRisk %s: %w", wallet, domain.ErrNotFound)
	}
	return states[0], nil
}

// ListWalletRisk devuelve todos los estados de riesgo (precarga de la caché).
func (s *SQLiteStorage) ListWalletRisk(ctx context.Context) ([]domain.WalletRiskState, error) {
	return s.queryWalletRisk(ctx, `ORDER BY wallet ASC`)
}

func (s *SQLiteStorage) queryWalletRisk(ctx context.Context, tail string, args ...any) ([]domain.WalletRiskState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet, consecutive_wins, consecutive_losses, total_wagers, total_wager_amount,
		       total_win_amount, total_loss_amount, is_blacklisted, is_whitelisted,
		       cooldown_until, updated_at
		FROM wallet_risk `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryWalletRisk: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletRiskState
	for rows.Next() {
		var r domain.WalletRiskState
		var black, white int
		var cooldown sql.NullString
		var updatedAt string
		if err := rows.Scan(&r.WalletAddress, &r.ConsecutiveWins, &r.ConsecutiveLosses, &r.TotalWagers,
			&r.TotalWagerAmount, &r.TotalWinAmount, &r.TotalLossAmount, &black, &white,
			&cooldown, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage.queryWalletRisk: scan row: %w", err)
		}
		r.IsBlacklisted = black != 0
		r.IsWhitelisted = white != 0
		if t := parseNullTime(cooldown); t != nil {
			r.CooldownUntil = *t
		}
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
