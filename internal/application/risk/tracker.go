package risk

// tracker.go: rachas por wallet y restricciones temporales.
//
// El estado vive en una caché en memoria (write-through a ports.RiskStore).
// Check se llama desde muchos PlaceWager concurrentes; Record solo desde el
// settlement (goroutine del scheduler).

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Tracker implementa el UserRiskTracker.
type Tracker struct {
	store  ports.RiskStore
	policy domain.RiskPolicy

	mu     sync.RWMutex
	states map[string]domain.WalletRiskState
}

// New crea un Tracker con la política dada.
func New(store ports.RiskStore, policy domain.RiskPolicy) *Tracker {
	return &Tracker{
		store:  store,
		policy: policy,
		states: make(map[string]domain.WalletRiskState),
	}
}

// Load precarga la caché desde storage.
func (t *Tracker) Load(ctx context.Context) error {
	states, err := t.store.ListWalletRisk(ctx)
	if err != nil {
		return fmt.Errorf("risk.Load: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range states {
		t.states[s.WalletAddress] = s
	}
	slog.Debug("risk: cache loaded", "wallets", len(states))
	return nil
}

// Policy devuelve la política activa.
func (t *Tracker) Policy() domain.RiskPolicy {
	return t.policy
}

// Check devuelve *domain.RestrictedError si el wallet tiene un cooldown activo
// que bloquea apuestas. Los flags vencidos se limpian y se persisten.
func (t *Tracker) Check(ctx context.Context, wallet string, now time.Time) error {
	s, ok, err := t.lookup(ctx, wallet)
	if err != nil {
		return fmt.Errorf("risk.Check %s: %w", wallet, err)
	}
	if !ok {
		return nil
	}

	if s.ClearExpired(now) {
		if err := t.save(ctx, s); err != nil {
			slog.Warn("risk: could not persist expired cooldown", "wallet", wallet, "err", err)
		}
		slog.Info("risk: cooldown expired", "wallet", wallet)
		return nil
	}

	if s.Restricted(now, t.policy) {
		return &domain.RestrictedError{
			Wallet:      wallet,
			Blacklisted: s.IsBlacklisted,
			Until:       s.CooldownUntil,
			Remaining:   s.CooldownUntil.Sub(now),
		}
	}
	return nil
}

// Record aplica el resultado de una apuesta liquidada al estado del wallet.
func (t *Tracker) Record(ctx context.Context, w domain.Wager, now time.Time) (domain.WalletRiskState, error) {
	s, ok, err := t.lookup(ctx, w.WalletAddress)
	if err != nil {
		return domain.WalletRiskState{}, fmt.Errorf("risk.Record %s: %w", w.WalletAddress, err)
	}
	if !ok {
		s = domain.NewWalletRiskState(w.WalletAddress)
	}
	s.ClearExpired(now)

	wasBlack, wasWhite := s.IsBlacklisted, s.IsWhitelisted
	s.Record(w, now, t.policy)

	switch {
	case s.IsBlacklisted && !wasBlack:
		slog.Warn("risk: wallet blacklisted",
			"wallet", s.WalletAddress, "consecutive_wins", s.ConsecutiveWins, "until", s.CooldownUntil)
	case s.IsWhitelisted && !wasWhite:
		slog.Info("risk: wallet whitelisted",
			"wallet", s.WalletAddress, "consecutive_losses", s.ConsecutiveLosses, "until", s.CooldownUntil)
	}

	if err := t.save(ctx, s); err != nil {
		return s, fmt.Errorf("risk.Record %s: %w", w.WalletAddress, err)
	}
	return s, nil
}

// State devuelve el estado de un wallet. Un wallet sin historial devuelve el estado vacío.
func (t *Tracker) State(ctx context.Context, wallet string) (domain.WalletRiskState, error) {
	s, ok, err := t.lookup(ctx, wallet)
	if err != nil {
		return domain.WalletRiskState{}, fmt.Errorf("risk.State %s: %w", wallet, err)
	}
	if !ok {
		return domain.NewWalletRiskState(wallet), nil
	}
	return s, nil
}

// IsWhitelisted consulta solo la caché: se llama en cada tick del steering.
func (t *Tracker) IsWhitelisted(wallet string, now time.Time) bool {
	t.mu.RLock()
	s, ok := t.states[wallet]
	t.mu.RUnlock()
	return ok && s.ActiveWhitelist(now)
}

func (t *Tracker) lookup(ctx context.Context, wallet string) (domain.WalletRiskState, bool, error) {
	t.mu.RLock()
	s, ok := t.states[wallet]
	t.mu.RUnlock()
	if ok {
		return s, true, nil
	}

	s, err := t.store.GetWalletRisk(ctx, wallet)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.WalletRiskState{}, false, nil
	}
	if err != nil {
		return domain.WalletRiskState{}, false, err
	}
	t.mu.Lock()
	t.states[wallet] = s
	t.mu.Unlock()
	return s, true, nil
}

func (t *Tracker) save(ctx context.Context, s domain.WalletRiskState) error {
	t.mu.Lock()
	t.states[s.WalletAddress] = s
	t.mu.Unlock()
	return t.store.SaveWalletRisk(ctx, s)
}
