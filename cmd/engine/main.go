package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/updown/config"
	"github.com/alejandrodnm/updown/internal/adapters/balance"
	"github.com/alejandrodnm/updown/internal/adapters/broadcast"
	"github.com/alejandrodnm/updown/internal/adapters/notify"
	"github.com/alejandrodnm/updown/internal/adapters/pricesource"
	"github.com/alejandrodnm/updown/internal/adapters/storage"
	"github.com/alejandrodnm/updown/internal/application/ledger"
	"github.com/alejandrodnm/updown/internal/application/pricefeed"
	"github.com/alejandrodnm/updown/internal/application/risk"
	"github.com/alejandrodnm/updown/internal/application/scheduler"
	"github.com/alejandrodnm/updown/internal/application/settlement"
	"github.com/alejandrodnm/updown/internal/application/steering"
	"github.com/alejandrodnm/updown/internal/application/target"
	cronrunner "github.com/alejandrodnm/updown/internal/cron"
	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug and print round transitions")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	paper := flag.Bool("paper", false, "use the local SQLite wallet book and a simulated crowd of bettors")
	crowdSize := flag.Int("crowd", 12, "number of simulated wallets in paper mode")
	report := flag.Bool("report", false, "print daily targets and latest rounds, then exit")
	rounds := flag.Int("rounds", 0, "stop after N rounds (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *rounds > 0 {
		cfg.Round.MaxRounds = *rounds
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		printReport(ctx, store, console)
		return
	}

	slog.Info("updown engine starting",
		"config", *configPath,
		"paper", *paper,
		"price_source", cfg.Price.Source,
		"betting_window", cfg.Round.BettingWindow(),
		"lock_buffer", cfg.Round.LockBuffer(),
		"max_rounds", cfg.Round.MaxRounds,
	)

	var (
		bal   ports.BalanceService
		house ports.HouseAccount
	)
	if *paper || !cfg.Balance.Remote() {
		if !*paper {
			slog.Warn("no balance service configured, using the local wallet book")
		}
		if err := store.SeedWallet(ctx, storage.HouseWallet, cfg.Balance.PaperHouse()); err != nil {
			slog.Error("failed to seed house wallet", "err", err)
			os.Exit(1)
		}
		bal, house = store, store
	} else {
		client := balance.NewClient(balance.Config{
			BaseURL:   cfg.Balance.BaseURL,
			APIKey:    cfg.Balance.APIKey,
			Timeout:   cfg.Balance.Timeout(),
			RatePerS:  cfg.Balance.RatePerSec,
			Retries:   cfg.Balance.Retries,
			RetryWait: cfg.Balance.RetryWait(),
		})
		bal, house = client, client
	}

	hub := broadcast.NewHub(cfg.Broadcast.ClientBuffer)
	events := broadcast.Multi{hub, console}

	feed := pricefeed.New(pricefeed.Config{
		InitialPrice:  cfg.Price.InitialDec(),
		Liquidity:     cfg.Price.LiquidityDec(),
		MaxImpactPct:  cfg.Price.MaxImpact(),
		Floor:         cfg.Price.FloorDec(),
		HistorySize:   cfg.Price.HistorySize,
		SourceTimeout: cfg.Price.Timeout(),
		SourceRetries: cfg.Price.Retries,
	}, newPriceSource(cfg.Price), pricefeed.WithBroadcaster(events))

	riskTracker := risk.New(store, domain.RiskPolicy{
		WinStreakThreshold:    cfg.Risk.WinStreakThreshold,
		LossStreakThreshold:   cfg.Risk.LossStreakThreshold,
		BlacklistCooldown:     cfg.Risk.BlacklistCooldown(),
		WhitelistCooldown:     cfg.Risk.WhitelistCooldown(),
		WhitelistBlocksWagers: cfg.Risk.BlocksWagers(),
	})
	targetTracker := target.New(store, house, cfg.Target.Pct())

	book := ledger.New(ledger.Config{
		MinWager:     cfg.Round.MinWagerDec(),
		MaxWager:     cfg.Round.MaxWagerDec(),
		PayoutRatio:  cfg.Round.PayoutRatioDec(),
		EVMAddresses: cfg.Round.EVMAddresses,
	}, store, bal, riskTracker, feed)

	steerer := steering.New(steering.Config{
		Enabled:      cfg.Steering.Enabled,
		MinMarginPct: cfg.Steering.MinMargin(),
		MaxImpactPct: cfg.Steering.MaxImpact(),
		QuietWindow:  cfg.Steering.QuietWindow(),
	}, book, feed, targetTracker, riskTracker)

	settler := settlement.New(settlement.Config{
		PayoutTimeout: cfg.Balance.Timeout(),
		PayoutRetries: cfg.Balance.Retries,
		RetryWait:     cfg.Balance.RetryWait(),
		PayoutWorkers: cfg.Balance.PayoutWorkers,
	}, book, store, riskTracker, targetTracker, bal, events)

	sched := scheduler.New(scheduler.Config{
		BettingWindow:          cfg.Round.BettingWindow(),
		LockBuffer:             cfg.Round.LockBuffer(),
		TickInterval:           cfg.Round.Tick(),
		SettlementPriceTimeout: cfg.Round.SettlementPriceTimeout(),
		PriceMaxAge:            cfg.Round.PriceMaxAge(),
		MaxRounds:              cfg.Round.MaxRounds,
	}, scheduler.Deps{
		Store:      store,
		Feed:       feed,
		Ledger:     book,
		Steering:   steerer,
		Settlement: settler,
		Target:     targetTracker,
		Risk:       riskTracker,
		Events:     events,
	})

	if err := sched.Recover(ctx); err != nil {
		slog.Error("recovery failed", "err", err)
		os.Exit(1)
	}

	jobs := cronrunner.New(ctx)
	if err := jobs.Add("daily-target-rollover", cfg.Target.RolloverCron, targetTracker.Rollover); err != nil {
		slog.Error("failed to schedule rollover", "err", err, "spec", cfg.Target.RolloverCron)
		os.Exit(1)
	}
	jobs.Start()
	defer jobs.Stop()

	srv := serveBroadcast(cfg.Broadcast.Listen, hub)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	if *paper {
		wallets, err := seedCrowd(ctx, store, *crowdSize, cfg.Balance.PaperWallet())
		if err != nil {
			slog.Error("failed to seed paper wallets", "err", err)
			os.Exit(1)
		}
		go runCrowd(runCtx, stop, sched, wallets, cfg.Round.MinWagerDec())
	}

	if err := sched.Run(runCtx); err != nil {
		slog.Error("scheduler exited with error", "err", err)
	}
	stop()

	hub.Close()
	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("broadcast server shutdown", "err", err)
		}
		cancelShutdown()
	}

	if *paper {
		printReport(context.Background(), store, console)
	}
	slog.Info("updown engine stopped cleanly", "rounds", sched.Completed())
}

func newPriceSource(cfg config.PriceConfig) ports.PriceSource {
	if cfg.Source == "binance" {
		return pricesource.NewBinance(cfg.BinanceBase, cfg.BinanceSymbol)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return pricesource.NewRandomWalk(seed, cfg.Volatility, cfg.Drift)
}

// serveBroadcast arranca el servidor websocket en /ws. nil si no hay listen.
func serveBroadcast(addr string, hub *broadcast.Hub) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("broadcast server listening", "addr", addr, "path", "/ws")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("broadcast server failed", "err", err)
		}
	}()
	return srv
}

func printReport(ctx context.Context, store *storage.SQLiteStorage, console *notify.Console) {
	dailies, err := store.GetDailyTargets(ctx, 14)
	if err != nil {
		slog.Error("failed to load daily targets", "err", err)
		os.Exit(1)
	}
	rounds, err := store.GetRecentRounds(ctx, 20)
	if err != nil {
		slog.Error("failed to load rounds", "err", err)
		os.Exit(1)
	}
	console.PrintReport(dailies, rounds)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
