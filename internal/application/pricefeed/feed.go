package pricefeed

// feed.go: precio de referencia del engine.
//
// El precio actual vive en un atomic.Pointer: el ledger, el steering y la API
// lo leen sin lock. Las escrituras (tick orgánico y trades sintéticos) se
// serializan con writeMu. El histórico es un ring buffer acotado; aparte se
// guarda una muestra por minuto durante 24h para change24h.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

const (
	DefaultHistorySize   = 1440
	dailySamples         = 24 * 60 // una por minuto
	defaultSourceTimeout = 2 * time.Second
	defaultSourceRetries = 2
	defaultRetryWait     = 100 * time.Millisecond
	pricePrecision       = 8
)

var (
	defaultFloor        = decimal.RequireFromString("0.01")
	defaultMaxImpactPct = decimal.RequireFromString("0.005")
	defaultLiquidity    = decimal.NewFromInt(1_000_000)
	hundred             = decimal.NewFromInt(100)
	one                 = decimal.NewFromInt(1)
)

// Config contiene los parámetros del feed.
type Config struct {
	InitialPrice  decimal.Decimal
	Liquidity     decimal.Decimal // tamaño de trade que movería el precio un 100%
	MaxImpactPct  decimal.Decimal // impacto máximo de un trade inyectado (0.005 = 0.5%)
	Floor         decimal.Decimal // el precio nunca baja de aquí
	HistorySize   int
	SourceTimeout time.Duration
	SourceRetries int
	RetryWait     time.Duration
}

func (c *Config) setDefaults() {
	if !c.Floor.IsPositive() {
		c.Floor = defaultFloor
	}
	if !c.InitialPrice.GreaterThan(c.Floor) {
		c.InitialPrice = decimal.NewFromInt(100)
	}
	if !c.Liquidity.IsPositive() {
		c.Liquidity = defaultLiquidity
	}
	if !c.MaxImpactPct.IsPositive() {
		c.MaxImpactPct = defaultMaxImpactPct
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = defaultSourceTimeout
	}
	if c.SourceRetries < 0 {
		c.SourceRetries = defaultSourceRetries
	}
	if c.RetryWait <= 0 {
		c.RetryWait = defaultRetryWait
	}
}

// Feed mantiene el precio actual y su histórico.
type Feed struct {
	cfg    Config
	source ports.PriceSource
	events ports.Broadcaster
	now    func() time.Time

	price     atomic.Pointer[domain.PricePoint]
	refreshed atomic.Int64 // unix nanos del último update orgánico

	writeMu sync.Mutex
	histMu  sync.RWMutex
	history ring
	daily   ring // primer punto de cada minuto, 24h
}

type ring struct {
	points []domain.PricePoint
	head   int // próxima posición a escribir
	count  int
}

func newRing(size int) ring {
	return ring{points: make([]domain.PricePoint, size)}
}

func (r *ring) push(p domain.PricePoint) {
	r.points[r.head] = p
	r.head = (r.head + 1) % len(r.points)
	if r.count < len(r.points) {
		r.count++
	}
}

// last devuelve el punto más reciente.
func (r *ring) last() (domain.PricePoint, bool) {
	if r.count == 0 {
		return domain.PricePoint{}, false
	}
	return r.points[(r.head-1+len(r.points))%len(r.points)], true
}

// items devuelve los puntos, el más antiguo primero.
func (r *ring) items() []domain.PricePoint {
	out := make([]domain.PricePoint, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.points)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.points[(start+i)%len(r.points)])
	}
	return out
}

// Option configura un Feed.
type Option func(*Feed)

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// WithBroadcaster publica un price_update en cada tick.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(f *Feed) { f.events = b }
}

// New crea un Feed con el precio inicial de cfg.
func New(cfg Config, source ports.PriceSource, opts ...Option) *Feed {
	cfg.setDefaults()
	f := &Feed{
		cfg:     cfg,
		source:  source,
		now:     time.Now,
		history: newRing(cfg.HistorySize),
		daily:   newRing(dailySamples),
	}
	for _, opt := range opts {
		opt(f)
	}
	now := f.now()
	f.store(domain.PricePoint{Price: cfg.InitialPrice, At: now})
	f.refreshed.Store(now.UnixNano())
	return f
}

// Current devuelve el precio actual. Nunca bloquea.
func (f *Feed) Current() decimal.Decimal {
	return f.price.Load().Price
}

// Last devuelve el último punto del feed.
func (f *Feed) Last() domain.PricePoint {
	return *f.price.Load()
}

// Snapshot devuelve el precio actual si el último update orgánico tiene como
// mucho maxAge. Si no, domain.ErrPriceUnavailable.
func (f *Feed) Snapshot(maxAge time.Duration) (decimal.Decimal, error) {
	last := time.Unix(0, f.refreshed.Load())
	age := f.now().Sub(last)
	if age > maxAge {
		return decimal.Zero, fmt.Errorf("pricefeed.Snapshot: last update %s ago: %w",
			age.Round(time.Millisecond), domain.ErrPriceUnavailable)
	}
	return f.Current(), nil
}

// Tick pide el siguiente movimiento a la fuente y lo aplica.
// Si la fuente falla tras los reintentos el precio no cambia (y envejece).
func (f *Feed) Tick(ctx context.Context) error {
	ret, err := f.pull(ctx)
	if err != nil {
		slog.Warn("pricefeed: source unavailable, price aging", "err", err)
		return fmt.Errorf("pricefeed.Tick: %w", err)
	}

	f.writeMu.Lock()
	next := f.clamp(f.Current().Mul(one.Add(ret)))
	now := f.now()
	f.store(domain.PricePoint{Price: next, At: now})
	f.refreshed.Store(now.UnixNano())
	f.writeMu.Unlock()

	if f.events != nil {
		f.events.Broadcast(domain.Event{
			Type: domain.EventPriceUpdate,
			Price: &domain.PriceUpdate{
				Price:     next,
				Change24h: f.Change24h(),
				At:        now,
			},
			TS: now.UnixMilli(),
		})
	}
	return nil
}

func (f *Feed) pull(ctx context.Context) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.SourceRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(f.cfg.RetryWait * time.Duration(attempt)):
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			}
		}
		cctx, cancel := context.WithTimeout(ctx, f.cfg.SourceTimeout)
		ret, err := f.source.NextReturn(cctx)
		cancel()
		if err == nil {
			return ret, nil
		}
		lastErr = err
	}
	return decimal.Zero, fmt.Errorf("after %d attempts: %w", f.cfg.SourceRetries+1, lastErr)
}

// InjectTrade aplica un trade sintético de tamaño size en la dirección dada y
// devuelve el nuevo precio. Impacto = size / Liquidity, acotado a MaxImpactPct;
// el resultado nunca baja de Floor.
func (f *Feed) InjectTrade(direction domain.Direction, size decimal.Decimal) decimal.Decimal {
	if !direction.Valid() || !size.IsPositive() {
		return f.Current()
	}
	impact := size.Div(f.cfg.Liquidity)
	if impact.GreaterThan(f.cfg.MaxImpactPct) {
		impact = f.cfg.MaxImpactPct
	}
	if direction == domain.Down {
		impact = impact.Neg()
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	next := f.clamp(f.Current().Mul(one.Add(impact)))
	f.store(domain.PricePoint{Price: next, At: f.now(), Synthetic: true})
	return next
}

// Liquidity devuelve la liquidez configurada.
func (f *Feed) Liquidity() decimal.Decimal {
	return f.cfg.Liquidity
}

// Change24h devuelve la variación porcentual frente a la muestra más antigua
// de las últimas 24h (resolución de un minuto).
func (f *Feed) Change24h() decimal.Decimal {
	cutoff := f.now().Add(-24 * time.Hour)

	f.histMu.RLock()
	samples := f.daily.items()
	f.histMu.RUnlock()

	var base *domain.PricePoint
	for i := range samples {
		if !samples[i].At.Before(cutoff) {
			base = &samples[i]
			break
		}
	}
	if base == nil || base.Price.IsZero() {
		return decimal.Zero
	}
	return f.Current().Sub(base.Price).Div(base.Price).Mul(hundred).Round(4)
}

// History devuelve los puntos del ring buffer, el más antiguo primero.
func (f *Feed) History() []domain.PricePoint {
	f.histMu.RLock()
	defer f.histMu.RUnlock()
	return f.history.items()
}

func (f *Feed) clamp(p decimal.Decimal) decimal.Decimal {
	p = p.Round(pricePrecision)
	if p.LessThan(f.cfg.Floor) {
		return f.cfg.Floor
	}
	return p
}

func (f *Feed) store(p domain.PricePoint) {
	f.price.Store(&p)

	f.histMu.Lock()
	f.history.push(p)
	if last, ok := f.daily.last(); !ok || p.At.Truncate(time.Minute).After(last.At.Truncate(time.Minute)) {
		f.daily.push(p)
	}
	f.histMu.Unlock()
}
