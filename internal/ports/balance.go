package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceService es el colaborador externo que custodia los fondos de los wallets.
// Ambas operaciones son idempotentes por ref: reintentar con la misma ref no
// vuelve a mover fondos.
type BalanceService interface {
	// Debit descuenta amount del wallet. Devuelve domain.ErrInsufficientBalance
	// si el wallet no tiene fondos.
	Debit(ctx context.Context, wallet string, amount decimal.Decimal, ref string) error

	// Credit abona amount al wallet.
	Credit(ctx context.Context, wallet string, amount decimal.Decimal, ref string) error
}

// HouseAccount expone el balance de la casa para el objetivo diario.
type HouseAccount interface {
	HouseBalance(ctx context.Context) (decimal.Decimal, error)
}
