package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceSource entrega el siguiente movimiento "orgánico" del precio de referencia.
type PriceSource interface {
	// NextReturn devuelve el retorno relativo desde la última muestra
	// (0.001 = +0.1%). El feed lo aplica sobre su precio actual.
	NextReturn(ctx context.Context) (decimal.Decimal, error)
}
