package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus representa el estado de una instrucción de pago en el outbox.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutSent    PayoutStatus = "SENT"
	PayoutFailed  PayoutStatus = "FAILED"
)

// PayoutInstruction es el crédito que el settlement pide al servicio de balances.
// WagerID es a la vez clave primaria y referencia de idempotencia.
type PayoutInstruction struct {
	WagerID       string
	RoundID       string
	WalletAddress string
	Amount        decimal.Decimal
	Status        PayoutStatus
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// WagerSettlement es el cambio que el settlement aplica a una apuesta.
type WagerSettlement struct {
	WagerID      string
	Result       WagerResult
	PayoutAmount decimal.Decimal
	SettledAt    time.Time
}
