package ledger

// ledger.go: WagerLedger, apuestas de la ronda abierta.
//
// gate es la compuerta "aceptando apuestas": PlaceWager la mantiene en RLock
// durante toda la colocación (validación, débito y escritura), Close toma el
// Lock. Cuando Close vuelve no queda ninguna colocación en vuelo y las nuevas
// ven la ronda cerrada.
//
// Las apuestas viven en una arena en memoria indexada por id y por ronda
// (ids, no punteros), con write-through a storage.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Store es lo que el ledger necesita persistir.
type Store interface {
	ports.WagerStore
	CommitSettlement(ctx context.Context, round domain.Round, settlements []domain.WagerSettlement) ([]string, error)
}

// RiskChecker rechaza wallets con un cooldown activo.
type RiskChecker interface {
	Check(ctx context.Context, wallet string, now time.Time) error
}

// PriceReader da el precio de entrada de la apuesta.
type PriceReader interface {
	Current() decimal.Decimal
}

// Config contiene los límites de las apuestas.
type Config struct {
	MinWager    decimal.Decimal
	MaxWager    decimal.Decimal // cero = sin máximo
	PayoutRatio decimal.Decimal

	// EVMAddresses exige wallets 0x… de 20 bytes y las normaliza a checksum
	// EIP-55, así "0xabc…" y "0xABC…" comparten rachas y balance.
	EVMAddresses bool
}

// Ledger implementa el WagerLedger.
type Ledger struct {
	cfg     Config
	store   Store
	balance ports.BalanceService
	risk    RiskChecker
	prices  PriceReader
	now     func() time.Time

	gate      sync.RWMutex
	openRound string // protegido por gate

	mu      sync.RWMutex
	wagers  map[string]domain.Wager
	byRound map[string][]string
}

// New crea el ledger.
func New(cfg Config, store Store, balance ports.BalanceService, risk RiskChecker, prices PriceReader) *Ledger {
	if !cfg.PayoutRatio.IsPositive() {
		cfg.PayoutRatio = domain.DefaultPayoutRatio
	}
	return &Ledger{
		cfg:     cfg,
		store:   store,
		balance: balance,
		risk:    risk,
		prices:  prices,
		now:     time.Now,
		wagers:  make(map[string]domain.Wager),
		byRound: make(map[string][]string),
	}
}

// SetClock reemplaza el reloj (tests).
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Open abre la compuerta para roundID.
func (l *Ledger) Open(roundID string) {
	l.gate.Lock()
	l.openRound = roundID
	l.gate.Unlock()

	l.mu.Lock()
	if _, ok := l.byRound[roundID]; !ok {
		l.byRound[roundID] = nil
	}
	l.mu.Unlock()
}

// Close cierra la compuerta. Espera a las colocaciones en vuelo.
func (l *Ledger) Close(roundID string) {
	l.gate.Lock()
	if l.openRound == roundID {
		l.openRound = ""
	}
	l.gate.Unlock()
}

// PlaceWager valida, debita y registra una apuesta en la ronda abierta.
// Un rechazo no deja estado parcial: sin débito no hay fila y una fila que no
// se pudo escribir revierte su débito.
func (l *Ledger) PlaceWager(ctx context.Context, roundID, wallet string, amount decimal.Decimal, direction domain.Direction) (domain.Wager, error) {
	if !direction.Valid() {
		return domain.Wager{}, fmt.Errorf("ledger.PlaceWager: %q: %w", direction, domain.ErrInvalidDirection)
	}
	wallet, err := l.normalizeWallet(wallet)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("ledger.PlaceWager: %w", err)
	}
	if err := l.validateAmount(amount); err != nil {
		return domain.Wager{}, fmt.Errorf("ledger.PlaceWager: %w", err)
	}

	l.gate.RLock()
	defer l.gate.RUnlock()

	if roundID == "" || l.openRound != roundID {
		return domain.Wager{}, fmt.Errorf("ledger.PlaceWager: round %s: %w", roundID, domain.ErrRoundClosed)
	}

	now := l.now()
	if err := l.risk.Check(ctx, wallet, now); err != nil {
		return domain.Wager{}, fmt.Errorf("ledger.PlaceWager: %w", err)
	}

	w := domain.Wager{
		ID:            uuid.NewString(),
		RoundID:       roundID,
		WalletAddress: wallet,
		Amount:        amount,
		Direction:     direction,
		PayoutRatio:   l.cfg.PayoutRatio,
		PayoutAmount:  decimal.Zero,
		EntryPrice:    l.prices.Current(),
		PlacedAt:      now,
	}

	if err := l.balance.Debit(ctx, wallet, amount, w.ID); err != nil {
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			// Timeout o fallo de red: el débito pudo aplicarse en remoto. La ref es w.ID.
			slog.Error("ledger: debit outcome unknown, needs reconciliation",
				"ref", w.ID, "round", roundID, "wallet", wallet, "amount", amount.String(), "err", err)
		}
		return domain.Wager{}, fmt.Errorf("ledger.PlaceWager: debit %s: %w", wallet, err)
	}

	if err := l.store.SaveWager(ctx, w); err != nil {
		l.reverse(w)
		return domain.Wager{}, fmt.Errorf("ledger.PlaceWager: %w", err)
	}

	l.mu.Lock()
	l.wagers[w.ID] = w
	l.byRound[roundID] = append(l.byRound[roundID], w.ID)
	l.mu.Unlock()

	slog.Debug("ledger: wager placed",
		"round", roundID, "wager", w.ID, "wallet", wallet,
		"direction", direction, "amount", amount.String())
	return w, nil
}

// normalizeWallet valida el wallet y, en modo EVM, lo pasa a checksum.
func (l *Ledger) normalizeWallet(wallet string) (string, error) {
	if wallet == "" {
		return "", domain.ErrInvalidWallet
	}
	if !l.cfg.EVMAddresses {
		return wallet, nil
	}
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("%q: %w", wallet, domain.ErrInvalidWallet)
	}
	return common.HexToAddress(wallet).Hex(), nil
}

func (l *Ledger) validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", amount, domain.ErrInvalidAmount)
	}
	if l.cfg.MinWager.IsPositive() && amount.LessThan(l.cfg.MinWager) {
		return fmt.Errorf("amount %s below minimum %s: %w", amount, l.cfg.MinWager, domain.ErrInvalidAmount)
	}
	if l.cfg.MaxWager.IsPositive() && amount.GreaterThan(l.cfg.MaxWager) {
		return fmt.Errorf("amount %s above maximum %s: %w", amount, l.cfg.MaxWager, domain.ErrInvalidAmount)
	}
	return nil
}

// reverse devuelve el débito de una apuesta que no llegó a storage.
// Usa un contexto propio: el del caller puede estar ya cancelado.
func (l *Ledger) reverse(w domain.Wager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.balance.Credit(ctx, w.WalletAddress, w.Amount, w.ID+":reversal"); err != nil {
		slog.Error("ledger: debit reversal failed, needs reconciliation",
			"wager", w.ID, "wallet", w.WalletAddress, "amount", w.Amount.String(), "err", err)
		return
	}
	slog.Warn("ledger: debit reversed after failed write", "wager", w.ID, "wallet", w.WalletAddress)
}

// WagersForRound devuelve las apuestas de la ronda en orden de llegada.
// Rondas fuera de la arena (recovery) se leen de storage.
func (l *Ledger) WagersForRound(ctx context.Context, roundID string) ([]domain.Wager, error) {
	l.mu.RLock()
	ids, known := l.byRound[roundID]
	if known {
		out := make([]domain.Wager, 0, len(ids))
		for _, id := range ids {
			out = append(out, l.wagers[id])
		}
		l.mu.RUnlock()
		return out, nil
	}
	l.mu.RUnlock()

	wagers, err := l.store.GetWagersByRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("ledger.WagersForRound %s: %w", roundID, err)
	}
	return wagers, nil
}

// MarkSettled liquida una apuesta suelta. Una segunda llamada devuelve
// domain.ErrAlreadySettled y no cambia nada: es un fallo de programación.
func (l *Ledger) MarkSettled(ctx context.Context, wagerID string, result domain.WagerResult, payout decimal.Decimal) error {
	st := domain.WagerSettlement{WagerID: wagerID, Result: result, PayoutAmount: payout, SettledAt: l.now()}
	if err := l.store.MarkWagerSettled(ctx, st); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			slog.Error("ledger: wager settled twice", "wager", wagerID)
		}
		return fmt.Errorf("ledger.MarkSettled: %w", err)
	}
	l.apply([]domain.WagerSettlement{st}, []string{wagerID})
	return nil
}

// SettleRound aplica el settlement de la ronda en una transacción y
// sincroniza la arena. Devuelve los IDs liquidados en esta llamada.
func (l *Ledger) SettleRound(ctx context.Context, round domain.Round, settlements []domain.WagerSettlement) ([]string, error) {
	ids, err := l.store.CommitSettlement(ctx, round, settlements)
	if err != nil {
		return nil, fmt.Errorf("ledger.SettleRound %s: %w", round.ID, err)
	}
	l.apply(settlements, ids)
	return ids, nil
}

func (l *Ledger) apply(settlements []domain.WagerSettlement, ids []string) {
	applied := make(map[string]bool, len(ids))
	for _, id := range ids {
		applied[id] = true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range settlements {
		if !applied[st.WagerID] {
			continue
		}
		w, ok := l.wagers[st.WagerID]
		if !ok {
			continue
		}
		at := st.SettledAt
		w.IsSettled = true
		w.Result = st.Result
		w.PayoutAmount = st.PayoutAmount
		w.SettledAt = &at
		l.wagers[st.WagerID] = w
	}
}

// Forget descarta de la arena una ronda ya completada.
func (l *Ledger) Forget(roundID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.byRound[roundID] {
		delete(l.wagers, id)
	}
	delete(l.byRound, roundID)
}
