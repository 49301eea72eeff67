package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del engine.
type Config struct {
	Round     RoundConfig     `yaml:"round"`
	Steering  SteeringConfig  `yaml:"steering"`
	Risk      RiskConfig      `yaml:"risk"`
	Target    TargetConfig    `yaml:"target"`
	Price     PriceConfig     `yaml:"price"`
	Balance   BalanceConfig   `yaml:"balance"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// RoundConfig controla los tiempos de cada ronda y los límites de apuesta.
// Los importes van como string para no perder precisión.
type RoundConfig struct {
	BettingWindowMs          int    `yaml:"betting_window_ms"`
	LockBufferMs             int    `yaml:"lock_buffer_ms"`
	TickMs                   int    `yaml:"tick_ms"`
	SettlementPriceTimeoutMs int    `yaml:"settlement_price_timeout_ms"`
	PriceMaxAgeMs            int    `yaml:"price_max_age_ms"`
	MaxRounds                int    `yaml:"max_rounds"` // 0 = sin límite
	MinWager                 string `yaml:"min_wager"`
	MaxWager                 string `yaml:"max_wager"` // "0" = sin máximo
	PayoutRatio              string `yaml:"payout_ratio"`
	EVMAddresses             bool   `yaml:"evm_addresses"` // exige wallets 0x… con checksum
}

// SteeringConfig controla el empuje del precio.
type SteeringConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MinMarginPct  string `yaml:"min_margin_pct"`
	MaxImpactPct  string `yaml:"max_impact_pct"`
	QuietWindowMs int    `yaml:"quiet_window_ms"`
}

// RiskConfig controla las rachas y los cooldowns por wallet.
type RiskConfig struct {
	WinStreakThreshold    int   `yaml:"win_streak_threshold"`  // blacklist al superarlo
	LossStreakThreshold   int   `yaml:"loss_streak_threshold"` // whitelist al superarlo
	BlacklistCooldownMin  int   `yaml:"blacklist_cooldown_min"`
	WhitelistCooldownMin  int   `yaml:"whitelist_cooldown_min"`
	WhitelistBlocksWagers *bool `yaml:"whitelist_blocks_wagers"` // nil = true
}

// TargetConfig controla el objetivo diario de profit.
type TargetConfig struct {
	DailyPct     string `yaml:"daily_pct"`     // fracción del balance de apertura
	RolloverCron string `yaml:"rollover_cron"` // con segundos, UTC
}

// PriceConfig controla el feed de precios y su fuente.
type PriceConfig struct {
	Source        string  `yaml:"source"` // random | binance
	Initial       string  `yaml:"initial"`
	Floor         string  `yaml:"floor"`
	Liquidity     string  `yaml:"liquidity"`
	MaxImpactPct  string  `yaml:"max_impact_pct"`
	HistorySize   int     `yaml:"history_size"`
	TimeoutMs     int     `yaml:"timeout_ms"`
	Retries       int     `yaml:"retries"`
	Seed          uint64  `yaml:"seed"`
	Volatility    float64 `yaml:"volatility"` // desviación por tick del random walk
	Drift         float64 `yaml:"drift"`
	BinanceBase   string  `yaml:"binance_base"`
	BinanceSymbol string  `yaml:"binance_symbol"`
}

// BalanceConfig controla el servicio de balances.
type BalanceConfig struct {
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	TimeoutMs          int     `yaml:"timeout_ms"`
	Retries            int     `yaml:"retries"`
	RetryWaitMs        int     `yaml:"retry_wait_ms"`
	RatePerSec         float64 `yaml:"rate_per_sec"`
	PayoutWorkers      int     `yaml:"payout_workers"` // créditos simultáneos
	PaperWalletBalance string  `yaml:"paper_wallet_balance"`
	PaperHouseBalance  string  `yaml:"paper_house_balance"`
}

// BroadcastConfig controla el servidor websocket.
type BroadcastConfig struct {
	Listen       string `yaml:"listen"` // vacío = sin servidor
	ClientBuffer int    `yaml:"client_buffer"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse construye la configuración a partir de YAML ya leído.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("UPDOWN_DB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("BALANCE_BASE_URL"); v != "" {
		cfg.Balance.BaseURL = v
	}
	if v := os.Getenv("BALANCE_API_KEY"); v != "" {
		cfg.Balance.APIKey = v
	}
	if v := os.Getenv("BROADCAST_ADDR"); v != "" {
		cfg.Broadcast.Listen = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	r := &cfg.Round
	if r.BettingWindowMs <= 0 {
		r.BettingWindowMs = 25_000
	}
	if r.LockBufferMs <= 0 {
		r.LockBufferMs = 5_000
	}
	if r.TickMs <= 0 {
		r.TickMs = 1_000
	}
	if r.SettlementPriceTimeoutMs <= 0 {
		r.SettlementPriceTimeoutMs = 10_000
	}
	if r.PriceMaxAgeMs <= 0 {
		r.PriceMaxAgeMs = 3_000
	}
	if r.MinWager == "" {
		r.MinWager = "1"
	}
	if r.MaxWager == "" {
		r.MaxWager = "0"
	}
	if r.PayoutRatio == "" {
		r.PayoutRatio = "1.9"
	}

	if cfg.Steering.MinMarginPct == "" {
		cfg.Steering.MinMarginPct = "0.0005"
	}
	if cfg.Steering.MaxImpactPct == "" {
		cfg.Steering.MaxImpactPct = "0.002"
	}
	if cfg.Steering.QuietWindowMs <= 0 {
		cfg.Steering.QuietWindowMs = 1_000
	}

	if cfg.Risk.WinStreakThreshold <= 0 {
		cfg.Risk.WinStreakThreshold = 4
	}
	if cfg.Risk.LossStreakThreshold <= 0 {
		cfg.Risk.LossStreakThreshold = 7
	}
	if cfg.Risk.BlacklistCooldownMin <= 0 {
		cfg.Risk.BlacklistCooldownMin = 30
	}
	if cfg.Risk.WhitelistCooldownMin <= 0 {
		cfg.Risk.WhitelistCooldownMin = 30
	}
	if cfg.Risk.WhitelistBlocksWagers == nil {
		blocks := true
		cfg.Risk.WhitelistBlocksWagers = &blocks
	}

	if cfg.Target.DailyPct == "" {
		cfg.Target.DailyPct = "0.05"
	}
	if cfg.Target.RolloverCron == "" {
		cfg.Target.RolloverCron = "0 0 0 * * *"
	}

	p := &cfg.Price
	if p.Source == "" {
		p.Source = "random"
	}
	if p.Initial == "" {
		p.Initial = "100"
	}
	if p.Floor == "" {
		p.Floor = "0.01"
	}
	if p.Liquidity == "" {
		p.Liquidity = "1000000"
	}
	if p.MaxImpactPct == "" {
		p.MaxImpactPct = "0.005"
	}
	if p.HistorySize <= 0 {
		p.HistorySize = 1440
	}
	if p.TimeoutMs <= 0 {
		p.TimeoutMs = 2_000
	}
	if p.Retries <= 0 {
		p.Retries = 2
	}
	if p.Volatility <= 0 {
		p.Volatility = 0.0008
	}
	if p.BinanceSymbol == "" {
		p.BinanceSymbol = "BTCUSDT"
	}

	b := &cfg.Balance
	if b.TimeoutMs <= 0 {
		b.TimeoutMs = 3_000
	}
	if b.Retries <= 0 {
		b.Retries = 3
	}
	if b.RetryWaitMs <= 0 {
		b.RetryWaitMs = 250
	}
	if b.RatePerSec <= 0 {
		b.RatePerSec = 50
	}
	if b.PayoutWorkers <= 0 {
		b.PayoutWorkers = 4
	}
	if b.PaperWalletBalance == "" {
		b.PaperWalletBalance = "1000"
	}
	if b.PaperHouseBalance == "" {
		b.PaperHouseBalance = "100000"
	}

	if cfg.Broadcast.ClientBuffer <= 0 {
		cfg.Broadcast.ClientBuffer = 64
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "updown.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate comprueba que todos los importes se puedan parsear y tengan sentido.
func (c *Config) validate() error {
	fields := []struct {
		name     string
		value    string
		positive bool
	}{
		{"round.min_wager", c.Round.MinWager, true},
		{"round.max_wager", c.Round.MaxWager, false},
		{"round.payout_ratio", c.Round.PayoutRatio, true},
		{"steering.min_margin_pct", c.Steering.MinMarginPct, true},
		{"steering.max_impact_pct", c.Steering.MaxImpactPct, true},
		{"target.daily_pct", c.Target.DailyPct, true},
		{"price.initial", c.Price.Initial, true},
		{"price.floor", c.Price.Floor, true},
		{"price.liquidity", c.Price.Liquidity, true},
		{"price.max_impact_pct", c.Price.MaxImpactPct, true},
		{"balance.paper_wallet_balance", c.Balance.PaperWalletBalance, false},
		{"balance.paper_house_balance", c.Balance.PaperHouseBalance, false},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return fmt.Errorf("%s: %q is not a decimal: %w", f.name, f.value, err)
		}
		if d.IsNegative() || (f.positive && d.IsZero()) {
			return fmt.Errorf("%s: %s out of range", f.name, f.value)
		}
	}
	if dec(c.Round.PayoutRatio).LessThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("round.payout_ratio: must be > 1, got %s", c.Round.PayoutRatio)
	}
	if !dec(c.Price.Initial).GreaterThan(dec(c.Price.Floor)) {
		return fmt.Errorf("price.initial: %s must be above price.floor %s", c.Price.Initial, c.Price.Floor)
	}
	switch c.Price.Source {
	case "random", "binance":
	default:
		return fmt.Errorf("price.source: unknown %q", c.Price.Source)
	}
	return nil
}

// dec parsea un importe ya validado por Load.
func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// BettingWindow devuelve la ventana de apuestas.
func (r RoundConfig) BettingWindow() time.Duration { return ms(r.BettingWindowMs) }

// LockBuffer devuelve el tiempo entre lock y settlement.
func (r RoundConfig) LockBuffer() time.Duration { return ms(r.LockBufferMs) }

// Tick devuelve el intervalo del scheduler.
func (r RoundConfig) Tick() time.Duration { return ms(r.TickMs) }

// SettlementPriceTimeout devuelve la espera máxima por un precio fresco.
func (r RoundConfig) SettlementPriceTimeout() time.Duration { return ms(r.SettlementPriceTimeoutMs) }

// PriceMaxAge devuelve la antigüedad máxima de un precio aceptable.
func (r RoundConfig) PriceMaxAge() time.Duration { return ms(r.PriceMaxAgeMs) }

func (r RoundConfig) MinWagerDec() decimal.Decimal { return dec(r.MinWager) }
func (r RoundConfig) MaxWagerDec() decimal.Decimal { return dec(r.MaxWager) }
func (r RoundConfig) PayoutRatioDec() decimal.Decimal { return dec(r.PayoutRatio) }

func (s SteeringConfig) MinMargin() decimal.Decimal { return dec(s.MinMarginPct) }
func (s SteeringConfig) MaxImpact() decimal.Decimal { return dec(s.MaxImpactPct) }
func (s SteeringConfig) QuietWindow() time.Duration { return ms(s.QuietWindowMs) }

// BlacklistCooldown y WhitelistCooldown en duración.
func (r RiskConfig) BlacklistCooldown() time.Duration {
	return time.Duration(r.BlacklistCooldownMin) * time.Minute
}

func (r RiskConfig) WhitelistCooldown() time.Duration {
	return time.Duration(r.WhitelistCooldownMin) * time.Minute
}

// BlocksWagers indica si un wallet en whitelist puede apostar.
func (r RiskConfig) BlocksWagers() bool {
	return r.WhitelistBlocksWagers == nil || *r.WhitelistBlocksWagers
}

func (t TargetConfig) Pct() decimal.Decimal { return dec(t.DailyPct) }

func (p PriceConfig) InitialDec() decimal.Decimal { return dec(p.Initial) }
func (p PriceConfig) FloorDec() decimal.Decimal { return dec(p.Floor) }
func (p PriceConfig) LiquidityDec() decimal.Decimal { return dec(p.Liquidity) }
func (p PriceConfig) MaxImpact() decimal.Decimal { return dec(p.MaxImpactPct) }
func (p PriceConfig) Timeout() time.Duration { return ms(p.TimeoutMs) }

func (b BalanceConfig) Timeout() time.Duration { return ms(b.TimeoutMs) }
func (b BalanceConfig) RetryWait() time.Duration { return ms(b.RetryWaitMs) }
func (b BalanceConfig) PaperWallet() decimal.Decimal {
	return dec(b.PaperWalletBalance)
}
func (b BalanceConfig) PaperHouse() decimal.Decimal {
	return dec(b.PaperHouseBalance)
}

// Remote indica si hay un servicio de balances externo configurado.
func (b BalanceConfig) Remote() bool { return b.BaseURL != "" }
