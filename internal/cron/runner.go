package cronrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner ejecuta jobs periódicos (rollover del objetivo diario) con specs de 6 campos.
// Un job que sigue corriendo cuando toca la siguiente ejecución se salta.
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// New crea un Runner en UTC. Los jobs reciben baseCtx.
func New(baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger := slogLogger{}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		baseCtx: baseCtx,
	}
}

// Add registra un job. name solo se usa en los logs.
func (r *Runner) Add(name, spec string, job func(context.Context)) error {
	_, err := r.cron.AddFunc(spec, func() {
		start := time.Now()
		job(r.baseCtx)
		slog.Debug("cron: job done", "job", name, "elapsed", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("cron.Add %s %q: %w", name, spec, err)
	}
	slog.Info("cron: job scheduled", "job", name, "spec", spec)
	return nil
}

// Start arranca el scheduler en su propia goroutine.
func (r *Runner) Start() {
	r.cron.Start()
	slog.Info("cron: started", "jobs", len(r.cron.Entries()))
}

// Stop detiene el scheduler y espera a los jobs en curso.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	slog.Info("cron: stopped")
}

// slogLogger adapta slog a cron.Logger. Los Info de cron (wake, run, skip) van a debug.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
