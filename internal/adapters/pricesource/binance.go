package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultBinanceBase = "https://api.binance.com"

	// /api/v3/ticker/price pesa 2 sobre 6000/min → muy por debajo con 5/s.
	tickerRatePerSec = 5

	maxRetries    = 2
	baseRetryWait = 200 * time.Millisecond
)

// Binance sigue el precio spot de un símbolo y entrega sus movimientos relativos.
// El feed aplica esos retornos sobre su propio precio, así la referencia
// externa marca el ritmo pero el precio del engine sigue siendo suyo.
type Binance struct {
	http      *http.Client
	base      string
	symbol    string
	limiter   *rate.Limiter
	retryWait time.Duration

	mu   sync.Mutex
	last decimal.Decimal
}

// NewBinance crea la fuente para symbol (p.ej. "BTCUSDT"). base vacío usa producción.
func NewBinance(base, symbol string) *Binance {
	if base == "" {
		base = defaultBinanceBase
	}
	return &Binance{
		http:      &http.Client{Timeout: 5 * time.Second},
		base:      base,
		symbol:    symbol,
		limiter:   rate.NewLimiter(tickerRatePerSec, 2),
		retryWait: baseRetryWait,
	}
}

// SetRetryWait cambia la espera base entre reintentos (tests).
func (b *Binance) SetRetryWait(d time.Duration) {
	b.retryWait = d
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// NextReturn implementa ports.PriceSource. La primera llamada devuelve 0.
func (b *Binance) NextReturn(ctx context.Context) (decimal.Decimal, error) {
	price, err := b.FetchPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.last
	b.last = price
	if prev.IsZero() {
		return decimal.Zero, nil
	}
	return price.Sub(prev).Div(prev).Round(8), nil
}

// FetchPrice devuelve el último precio spot del símbolo.
func (b *Binance) FetchPrice(ctx context.Context) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", b.base, url.QueryEscape(b.symbol))

	var out tickerResponse
	if err := b.doWithRetry(ctx, u, &out); err != nil {
		return decimal.Zero, fmt.Errorf("binance.FetchPrice %s: %w", b.symbol, err)
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance.FetchPrice %s: parse price %q: %w", b.symbol, out.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("binance.FetchPrice %s: non-positive price %s", b.symbol, price)
	}
	return price, nil
}

// doWithRetry hace el GET con rate limiting y backoff exponencial.
func (b *Binance) doWithRetry(ctx context.Context, u string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := b.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			b.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
			resp.Body.Close()
			slog.Warn("binance: rate limited", "status", resp.StatusCode, "attempt", attempt+1)
			b.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			b.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (b *Binance) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * b.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
