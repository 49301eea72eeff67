package pricesource

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

// RandomWalk genera retornos de un paseo aleatorio geométrico con semilla fija.
// Misma semilla → misma secuencia (backtests y tests reproducibles).
type RandomWalk struct {
	mu         sync.Mutex
	rng        *rand.Rand
	volatility float64 // desviación típica por tick (0.0005 = 0.05%)
	drift      float64
}

// NewRandomWalk crea la fuente. volatility <= 0 usa 0.0005.
func NewRandomWalk(seed uint64, volatility, drift float64) *RandomWalk {
	if volatility <= 0 {
		volatility = 0.0005
	}
	return &RandomWalk{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		volatility: volatility,
		drift:      drift,
	}
}

// NextReturn implementa ports.PriceSource.
func (r *RandomWalk) NextReturn(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	r.mu.Lock()
	z := r.rng.NormFloat64()
	r.mu.Unlock()
	return decimal.NewFromFloat(r.drift + z*r.volatility).Round(8), nil
}
