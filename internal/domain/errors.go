package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRoundClosed: apuesta fuera de BETTING. El caller puede reintentar en la próxima ronda.
	ErrRoundClosed = errors.New("round closed")
	// ErrWalletRestricted: cooldown de blacklist/whitelist activo.
	ErrWalletRestricted = errors.New("wallet restricted")
	// ErrInsufficientBalance: el servicio de balances rechazó el débito.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPriceUnavailable: no hay precio fresco para liquidar.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrAlreadySettled: segundo markSettled sobre la misma apuesta (fallo de programación).
	ErrAlreadySettled = errors.New("wager already settled")
	// ErrSettlementFatal: reintentos agotados durante el settlement; requiere reconciliación manual.
	ErrSettlementFatal = errors.New("settlement requires manual reconciliation")
	ErrInvalidAmount    = errors.New("invalid wager amount")
	ErrInvalidDirection = errors.New("invalid wager direction")
	ErrInvalidWallet    = errors.New("invalid wallet address")
	ErrNotFound         = errors.New("not found")
)

// RestrictedError detalla un rechazo por cooldown. errors.Is(err, ErrWalletRestricted) es true.
type RestrictedError struct {
	Wallet      string
	Blacklisted bool
	Until       time.Time
	Remaining   time.Duration
}

func (e *RestrictedError) Error() string {
	kind := "whitelist"
	if e.Blacklisted {
		kind = "blacklist"
	}
	return fmt.Sprintf("wallet %s restricted (%s cooldown, %s remaining)",
		e.Wallet, kind, e.Remaining.Round(time.Second))
}

func (e *RestrictedError) Unwrap() error {
	return ErrWalletRestricted
}
