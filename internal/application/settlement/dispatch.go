package settlement

// dispatch.go: worker pool para entregar pagos en paralelo.
//
// Cada instrucción es independiente (ref propia) así que el orden no importa;
// con muchas apuestas ganadoras la latencia del servicio de balances domina.

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/updown/internal/domain"
)

// dispatch entrega las instrucciones con hasta cfg.PayoutWorkers envíos simultáneos.
// Las ya SENT se ignoran. Devuelve cuántas se entregaron y cuántas fallaron.
func (e *Engine) dispatch(ctx context.Context, payouts []domain.PayoutInstruction) (delivered, failed int) {
	workCh := make(chan domain.PayoutInstruction, len(payouts))
	queued := 0
	for _, p := range payouts {
		if p.Status == domain.PayoutSent {
			continue
		}
		workCh <- p
		queued++
	}
	close(workCh)
	if queued == 0 {
		return 0, 0
	}

	workers := min(e.cfg.PayoutWorkers, queued)
	resultCh := make(chan bool, queued)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range workCh {
				resultCh <- e.deliver(ctx, p)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for ok := range resultCh {
		if ok {
			delivered++
		} else {
			failed++
		}
	}

	slog.Debug("settlement: payouts dispatched",
		"queued", queued,
		"delivered", delivered,
		"failed", failed,
		"workers", workers,
	)
	return delivered, failed
}
