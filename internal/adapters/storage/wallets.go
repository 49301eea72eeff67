package storage

// wallets.go: libro de balances local para modo paper.
//
// Implementa ports.BalanceService y ports.HouseAccount sin colaborador externo.
// Cada movimiento es una transferencia wallet ↔ casa registrada en
// ledger_entries con su ref; repetir una ref no vuelve a mover fondos.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/updown/internal/domain"
)

// HouseWallet es la cuenta de la casa dentro del libro local.
const HouseWallet = "__house__"

// SeedWallet crea el wallet con el balance dado si todavía no existe.
func (s *SQLiteStorage) SeedWallet(ctx context.Context, wallet string, balance decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO wallets (wallet, balance) VALUES (?, ?)`, wallet, balance.String())
	if err != nil {
		return fmt.Errorf("storage.SeedWallet %s: %w", wallet, err)
	}
	return nil
}

// WalletBalance devuelve el balance de un wallet (cero si no existe).
func (s *SQLiteStorage) WalletBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	return walletBalance(ctx, s.db, wallet)
}

// HouseBalance devuelve el balance de la casa.
func (s *SQLiteStorage) HouseBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.WalletBalance(ctx, HouseWallet)
}

// Debit mueve amount del wallet a la casa. domain.ErrInsufficientBalance si no alcanza.
func (s *SQLiteStorage) Debit(ctx context.Context, wallet string, amount decimal.Decimal, ref string) error {
	if err := s.transfer(ctx, wallet, HouseWallet, amount, ref, true); err != nil {
		return fmt.Errorf("storage.Debit %s: %w", wallet, err)
	}
	return nil
}

// Credit mueve amount de la casa al wallet.
func (s *SQLiteStorage) Credit(ctx context.Context, wallet string, amount decimal.Decimal, ref string) error {
	if err := s.transfer(ctx, HouseWallet, wallet, amount, ref, false); err != nil {
		return fmt.Errorf("storage.Credit %s: %w", wallet, err)
	}
	return nil
}

func (s *SQLiteStorage) transfer(ctx context.Context, from, to string, amount decimal.Decimal, ref string, checkFunds bool) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount %s: %w", amount, domain.ErrInvalidAmount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT ref FROM ledger_entries WHERE ref=?`, ref).Scan(&existing)
	if err == nil {
		return nil // ya aplicado
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup ref %q: %w", ref, err)
	}

	fromBal, err := walletBalance(ctx, tx, from)
	if err != nil {
		return err
	}
	if checkFunds && fromBal.LessThan(amount) {
		return domain.ErrInsufficientBalance
	}
	toBal, err := walletBalance(ctx, tx, to)
	if err != nil {
		return err
	}

	if err := setBalance(ctx, tx, from, fromBal.Sub(amount)); err != nil {
		return err
	}
	if err := setBalance(ctx, tx, to, toBal.Add(amount)); err != nil {
		return err
	}

	signed := amount
	wallet := to
	if checkFunds {
		signed = amount.Neg()
		wallet = from
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (ref, wallet, amount, created_at) VALUES (?,?,?,?)`,
		ref, wallet, signed.String(), formatTime(time.Now())); err != nil {
		return fmt.Errorf("insert ledger entry %q: %w", ref, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func walletBalance(ctx context.Context, db queryRower, wallet string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE wallet=?`, wallet).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", wallet, err)
	}
	return bal, nil
}

func setBalance(ctx context.Context, db execer, wallet string, bal decimal.Decimal) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO wallets (wallet, balance) VALUES (?, ?)
		ON CONFLICT(wallet) DO UPDATE SET balance=excluded.balance`,
		wallet, bal.String())
	if err != nil {
		return fmt.Errorf("set balance of %s: %w", wallet, err)
	}
	return nil
}
