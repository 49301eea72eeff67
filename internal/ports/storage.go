package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// RoundStore persiste las rondas.
type RoundStore interface {
	SaveRound(ctx context.Context, r domain.Round) error
	GetRound(ctx context.Context, id string) (domain.Round, error)
	// GetUnfinishedRounds devuelve las rondas que no llegaron a COMPLETED.
	GetUnfinishedRounds(ctx context.Context) ([]domain.Round, error)
	GetRecentRounds(ctx context.Context, limit int) ([]domain.Round, error)
	LastRoundNumber(ctx context.Context) (int64, error)
}

// WagerStore persiste las apuestas.
type WagerStore interface {
	SaveWager(ctx context.Context, w domain.Wager) error
	GetWager(ctx context.Context, id string) (domain.Wager, error)
	GetWagersByRound(ctx context.Context, roundID string) ([]domain.Wager, error)
	// MarkWagerSettled devuelve domain.ErrAlreadySettled si la apuesta ya estaba liquidada.
	MarkWagerSettled(ctx context.Context, s domain.WagerSettlement) error
}

// SettlementStore aplica el settlement de una ronda en una sola transacción.
type SettlementStore interface {
	// CommitSettlement marca las apuestas como liquidadas (solo las que no lo
	// estaban), crea sus instrucciones de pago y guarda la ronda. Devuelve los
	// IDs que se liquidaron en esta llamada.
	CommitSettlement(ctx context.Context, round domain.Round, settlements []domain.WagerSettlement) ([]string, error)
	GetPayouts(ctx context.Context, roundID string) ([]domain.PayoutInstruction, error)
	GetUndeliveredPayouts(ctx context.Context) ([]domain.PayoutInstruction, error)
	MarkPayoutSent(ctx context.Context, wagerID string, sentAt time.Time) error
	MarkPayoutFailed(ctx context.Context, wagerID string, attempts int, lastErr string) error
}

// RiskStore persiste el estado de riesgo por wallet.
type RiskStore interface {
	SaveWalletRisk(ctx context.Context, s domain.WalletRiskState) error
	GetWalletRisk(ctx context.Context, wallet string) (domain.WalletRiskState, error)
	ListWalletRisk(ctx context.Context) ([]domain.WalletRiskState, error)
}

// DailyStore persiste los objetivos diarios.
type DailyStore interface {
	SaveDailyTarget(ctx context.Context, t domain.DailyTarget) error
	GetDailyTarget(ctx context.Context, day time.Time) (domain.DailyTarget, error)
	GetDailyTargets(ctx context.Context, limit int) ([]domain.DailyTarget, error)
}

// Storage agrupa todo lo que el engine necesita persistir.
type Storage interface {
	RoundStore
	WagerStore
	SettlementStore
	RiskStore
	DailyStore

	Close() error
}
