package main

// paper.go: multitud simulada para modo paper.
//
// Cada wallet apuesta de vez en cuando en la ronda abierta: dirección sesgada
// hacia el movimiento actual (seguidores de tendencia) e importe aleatorio.
// Los fondos salen del libro local en SQLite.

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/scheduler"
	"github.com/alejandrodnm/updown/internal/domain"
)

const (
	crowdInterval  = time.Second
	betProbability = 0.12 // por wallet y tick
	trendBias      = 0.65 // probabilidad de seguir el movimiento actual
	maxStakeUnits  = 50   // múltiplos del mínimo
	stopFile       = "STOP"
)

// seedCrowd crea n wallets con direcciones EVM deterministas (0x…01, 0x…02, …)
// para que el modo paper funcione también con round.evm_addresses.
func seedCrowd(ctx context.Context, store *storage.SQLiteStorage, n int, balance decimal.Decimal) ([]string, error) {
	wallets := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		w := common.BigToAddress(big.NewInt(int64(i))).Hex()
		if err := store.SeedWallet(ctx, w, balance); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

type crowdStats struct {
	placed, closed, restricted, broke, failed int
}

// runCrowd coloca apuestas simuladas hasta que ctx se cancele o aparezca el
// archivo STOP; en ese caso llama a stop.
func runCrowd(ctx context.Context, stop context.CancelFunc, sched *scheduler.Scheduler, wallets []string, minWager decimal.Decimal) {
	if !minWager.IsPositive() {
		minWager = decimal.NewFromInt(1)
	}
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	ticker := time.NewTicker(crowdInterval)
	defer ticker.Stop()

	slog.Info("paper crowd started, press Ctrl+C or create STOP file to exit", "wallets", len(wallets))

	var stats crowdStats
	for {
		select {
		case <-ctx.Done():
			slog.Info("paper crowd stopped",
				"placed", stats.placed,
				"round_closed", stats.closed,
				"restricted", stats.restricted,
				"insufficient", stats.broke,
				"failed", stats.failed,
			)
			return
		case <-ticker.C:
		}

		if _, err := os.Stat(stopFile); err == nil {
			slog.Info("STOP file detected, shutting down")
			os.Remove(stopFile)
			stop()
			continue
		}

		round, ok := sched.CurrentRound()
		if !ok || round.Status != domain.RoundBetting {
			continue
		}

		trend := domain.Up
		if round.CurrentPrice.LessThan(round.StartPrice) {
			trend = domain.Down
		}

		for _, w := range wallets {
			if rng.Float64() >= betProbability {
				continue
			}
			dir := trend
			if rng.Float64() >= trendBias {
				dir = trend.Opposite()
			}
			amount := minWager.Mul(decimal.NewFromInt(int64(1 + rng.IntN(maxStakeUnits))))

			_, err := sched.PlaceWager(ctx, w, dir, amount)
			switch {
			case err == nil:
				stats.placed++
			case errors.Is(err, domain.ErrRoundClosed):
				stats.closed++
			case errors.Is(err, domain.ErrWalletRestricted):
				stats.restricted++
				slog.Debug("paper: wallet restricted", "wallet", w, "err", err)
			case errors.Is(err, domain.ErrInsufficientBalance):
				stats.broke++
			default:
				stats.failed++
				slog.Warn("paper: wager failed", "wallet", w, "err", err)
			}
		}
	}
}
