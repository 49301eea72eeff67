package balance

// client.go: adaptador HTTP del servicio de balances.
//
// Endpoints:
//
//	POST /v1/wallets/{wallet}/debit   {"amount":"10.5","ref":"<wager id>"}
//	POST /v1/wallets/{wallet}/credit  {"amount":"19.95","ref":"payout:<wager id>"}
//	GET  /v1/house/balance            {"balance":"100000"}
//
// El servicio deduplica por ref: un 409 significa que la operación ya se aplicó.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/updown/internal/domain"
)

const (
	defaultTimeout   = 3 * time.Second
	defaultRatePerS  = 50
	defaultRetries   = 2
	defaultRetryWait = 200 * time.Millisecond
)

// errClient marca respuestas 4xx que no se reintentan.
var errClient = errors.New("client error")

// Config contiene los parámetros del cliente.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration // por request
	RatePerS  float64
	Retries   int
	RetryWait time.Duration
}

// Client implementa ports.BalanceService y ports.HouseAccount contra la API remota.
type Client struct {
	http      *http.Client
	base      string
	apiKey    string
	limiter   *rate.Limiter
	retries   int
	retryWait time.Duration
}

// NewClient crea el cliente.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerS <= 0 {
		cfg.RatePerS = defaultRatePerS
	}
	if cfg.Retries < 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		base:      cfg.BaseURL,
		apiKey:    cfg.APIKey,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerS), int(math.Max(1, cfg.RatePerS/10))),
		retries:   cfg.Retries,
		retryWait: cfg.RetryWait,
	}
}

type moveRequest struct {
	Amount string `json:"amount"`
	Ref    string `json:"ref"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// Debit descuenta amount del wallet. 402 → domain.ErrInsufficientBalance.
func (c *Client) Debit(ctx context.Context, wallet string, amount decimal.Decimal, ref string) error {
	if err := c.move(ctx, "debit", wallet, amount, ref); err != nil {
		return fmt.Errorf("balance.Debit %s: %w", wallet, err)
	}
	return nil
}

// Credit abona amount al wallet.
func (c *Client) Credit(ctx context.Context, wallet string, amount decimal.Decimal, ref string) error {
	if err := c.move(ctx, "credit", wallet, amount, ref); err != nil {
		return fmt.Errorf("balance.Credit %s: %w", wallet, err)
	}
	return nil
}

// HouseBalance devuelve el balance de la casa.
func (c *Client) HouseBalance(ctx context.Context) (decimal.Decimal, error) {
	var out balanceResponse
	if err := c.doWithRetry(ctx, http.MethodGet, c.base+"/v1/house/balance", nil, &out); err != nil {
		return decimal.Zero, fmt.Errorf("balance.HouseBalance: %w", err)
	}
	bal, err := decimal.NewFromString(out.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance.HouseBalance: parse %q: %w", out.Balance, err)
	}
	return bal, nil
}

func (c *Client) move(ctx context.Context, op, wallet string, amount decimal.Decimal, ref string) error {
	body, err := json.Marshal(moveRequest{Amount: amount.String(), Ref: ref})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/v1/wallets/%s/%s", c.base, url.PathEscape(wallet), op)
	return c.doWithRetry(ctx, http.MethodPost, u, body, nil)
}

// doWithRetry hace la request con rate limiting y backoff exponencial.
// Los POST son seguros de reintentar porque el servicio deduplica por ref.
func (c *Client) doWithRetry(ctx context.Context, method, u string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt-1))) * c.retryWait
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		lastErr = c.do(ctx, method, u, body, out)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, domain.ErrInsufficientBalance) || errors.Is(lastErr, errClient) {
			return lastErr
		}
		slog.Warn("balance: request failed", "method", method, "url", u, "attempt", attempt+1, "err", lastErr)
	}
	return fmt.Errorf("after %d attempts: %w", c.retries+1, lastErr)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errClient, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return domain.ErrInsufficientBalance
	case resp.StatusCode == http.StatusConflict:
		// ref ya aplicada
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("server status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w %d: %s", errClient, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
