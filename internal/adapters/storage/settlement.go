package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// CommitSettlement aplica el settlement de una ronda en una única transacción:
// marca las apuestas pendientes, crea sus instrucciones de pago y guarda la ronda.
// Las apuestas que ya estaban liquidadas (retry tras crash) se saltan sin error.
func (s *SQLiteStorage) CommitSettlement(ctx context.Context, round domain.Round, settlements []domain.WagerSettlement) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage.CommitSettlement: begin tx: %w", err)
	}
	defer tx.Rollback()

	settled := make([]string, 0, len(settlements))
	for _, st := range settlements {
		err := markWagerSettled(ctx, tx, st)
		if errors.Is(err, domain.ErrAlreadySettled) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storage.CommitSettlement: %w", err)
		}

		var wallet string
		if err := tx.QueryRowContext(ctx, `SELECT wallet FROM wagers WHERE id=?`, st.WagerID).Scan(&wallet); err != nil {
			return nil, fmt.Errorf("storage.CommitSettlement: wallet of %s: %w", st.WagerID, err)
		}

		// El pago se registra aunque sea cero (LOSE): así el outbox refleja cada apuesta.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO payouts (wager_id, round_id, wallet, amount, status, created_at)
			VALUES (?,?,?,?,?,?)`,
			st.WagerID, round.ID, wallet, st.PayoutAmount.String(),
			string(domain.PayoutPending), formatTime(st.SettledAt),
		); err != nil {
			return nil, fmt.Errorf("storage.CommitSettlement: payout %s: %w", st.WagerID, err)
		}
		settled = append(settled, st.WagerID)
	}

	// La ronda llega con houseProfit y finalPrice ya calculados.
	if err := saveRound(ctx, tx, round); err != nil {
		return nil, fmt.Errorf("storage.CommitSettlement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage.CommitSettlement: commit: %w", err)
	}
	return settled, nil
}

// GetPayouts devuelve las instrucciones de pago de una ronda.
func (s *SQLiteStorage) GetPayouts(ctx context.Context, roundID string) ([]domain.PayoutInstruction, error) {
	return s.queryPayouts(ctx, `WHERE round_id=? ORDER BY created_at ASC, wager_id ASC`, roundID)
}

// GetUndeliveredPayouts devuelve las instrucciones PENDING o FAILED, las más antiguas primero.
func (s *SQLiteStorage) GetUndeliveredPayouts(ctx context.Context) ([]domain.PayoutInstruction, error) {
	return s.queryPayouts(ctx, `WHERE status IN ('PENDING','FAILED') ORDER BY created_at ASC, wager_id ASC`)
}

// MarkPayoutSent marca una instrucción como entregada.
func (s *SQLiteStorage) MarkPayoutSent(ctx context.Context, wagerID string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status='SENT', sent_at=?, attempts=attempts+1, last_error='' WHERE wager_id=?`,
		formatTime(sentAt), wagerID)
	if err != nil {
		return fmt.Errorf("storage.MarkPayoutSent %s: %w", wagerID, err)
	}
	return nil
}

// MarkPayoutFailed registra un intento fallido tras agotar los reintentos.
func (s *SQLiteStorage) MarkPayoutFailed(ctx context.Context, wagerID string, attempts int, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status='FAILED', attempts=attempts+?, last_error=? WHERE wager_id=? AND status <> 'SENT'`,
		attempts, lastErr, wagerID)
	if err != nil {
		return fmt.Errorf("storage.MarkPayoutFailed %s: %w", wagerID, err)
	}
	return nil
}

func (s *SQLiteStorage) queryPayouts(ctx context.Context, tail string, args ...any) ([]domain.PayoutInstruction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wager_id, round_id, wallet, amount, status, attempts, last_error, created_at, sent_at
		FROM payouts `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryPayouts: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutInstruction
	for rows.Next() {
		var p domain.PayoutInstruction
		var status, createdAt string
		var sentAt sql.NullString
		if err := rows.Scan(&p.WagerID, &p.RoundID, &p.WalletAddress, &p.Amount, &status,
			&p.Attempts, &p.LastError, &createdAt, &sentAt); err != nil {
			return nil, fmt.Errorf("storage.queryPayouts: scan row: %w", err)
		}
		p.Status = domain.PayoutStatus(status)
		p.CreatedAt = parseTime(createdAt)
		p.SentAt = parseNullTime(sentAt)
		out = append(out, p)
	}
	return out, rows.Err()
}
