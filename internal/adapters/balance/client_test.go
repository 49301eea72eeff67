package balance_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/updown/internal/adapters/balance"
	"github.com/alejandrodnm/updown/internal/domain"
)

// --- helpers ---

// fakeService es un servicio de balances en memoria con deduplicación por ref.
type fakeService struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	refs     map[string]bool
	failures int32 // próximas requests que responden 503
	calls    atomic.Int32
	apiKeys  []string
}

func newFakeService() *fakeService {
	return &fakeService{
		balances: map[string]decimal.Decimal{"0xa": decimal.NewFromInt(100), "__house__": decimal.NewFromInt(5000)},
		refs:     map[string]bool{},
	}
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/house/balance", func(w http.ResponseWriter, r *http.Request) {
		if f.fail(w, r) {
			return
		}
		f.mu.Lock()
		bal := f.balances["__house__"]
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"balance": bal.String()})
	})
	mux.HandleFunc("POST /v1/wallets/{wallet}/{op}", func(w http.ResponseWriter, r *http.Request) {
		if f.fail(w, r) {
			return
		}
		var req struct {
			Amount string `json:"amount"`
			Ref    string `json:"ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			http.Error(w, "bad amount", http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.refs[req.Ref] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		wallet := r.PathValue("wallet")
		switch r.PathValue("op") {
		case "debit":
			if f.balances[wallet].LessThan(amount) {
				w.WriteHeader(http.StatusPaymentRequired)
				return
			}
			f.balances[wallet] = f.balances[wallet].Sub(amount)
		case "credit":
			f.balances[wallet] = f.balances[wallet].Add(amount)
		default:
			http.NotFound(w, r)
			return
		}
		f.refs[req.Ref] = true
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeService) fail(w http.ResponseWriter, r *http.Request) bool {
	f.calls.Add(1)
	f.mu.Lock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("X-API-Key"))
	f.mu.Unlock()
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return true
	}
	return false
}

func (f *fakeService) balance(wallet string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[wallet].String()
}

func newClient(t *testing.T, svc *fakeService) *balance.Client {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	return balance.NewClient(balance.Config{
		BaseURL:   srv.URL,
		APIKey:    "secret",
		Retries:   2,
		RetryWait: time.Millisecond,
	})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- tests ---

func TestClient_DebitAndCredit(t *testing.T) {
	svc := newFakeService()
	c := newClient(t, svc)
	ctx := context.Background()

	require.NoError(t, c.Debit(ctx, "0xa", dec("40"), "w1"))
	require.NoError(t, c.Credit(ctx, "0xa", dec("76"), "payout:w1"))
	assert.Equal(t, "136", svc.balance("0xa"))

	svc.mu.Lock()
	for _, k := range svc.apiKeys {
		assert.Equal(t, "secret", k)
	}
	svc.mu.Unlock()
}

func TestClient_InsufficientBalance(t *testing.T) {
	svc := newFakeService()
	c := newClient(t, svc)

	err := c.Debit(context.Background(), "0xa", dec("100.01"), "w1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int32(1), svc.calls.Load(), "no retry on a declined debit")
	assert.Equal(t, "100", svc.balance("0xa"))
}

func TestClient_DuplicateRefIsSuccess(t *testing.T) {
	svc := newFakeService()
	c := newClient(t, svc)
	ctx := context.Background()

	require.NoError(t, c.Credit(ctx, "0xa", dec("10"), "payout:w1"))
	require.NoError(t, c.Credit(ctx, "0xa", dec("10"), "payout:w1"))
	assert.Equal(t, "110", svc.balance("0xa"))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	svc := newFakeService()
	svc.failures = 2
	c := newClient(t, svc)

	require.NoError(t, c.Credit(context.Background(), "0xa", dec("5"), "payout:w2"))
	assert.Equal(t, int32(3), svc.calls.Load())
	assert.Equal(t, "105", svc.balance("0xa"))
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	svc := newFakeService()
	svc.failures = 10
	c := newClient(t, svc)

	err := c.Credit(context.Background(), "0xa", dec("5"), "payout:w3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), svc.calls.Load())
}

func TestClient_HouseBalance(t *testing.T) {
	svc := newFakeService()
	c := newClient(t, svc)

	bal, err := c.HouseBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5000", bal.String())
}
