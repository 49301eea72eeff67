package storage

// sqlite.go: persistencia del engine de rondas.
//
// Estrategia:
//   - `rounds` y `wagers`: una fila por entidad, referencias por id (sin joins vivos).
//   - `payouts`: outbox de instrucciones de pago. Se escribe en la MISMA
//     transacción que marca las apuestas como liquidadas, así un crash a mitad
//     de settlement nunca deja apuestas liquidadas sin su pago registrado.
//   - `wallet_risk` y `daily_targets`: estado derivado, upsert por clave.
//   - `wallets` + `ledger_entries`: libro de balances local (modo paper).
//     ledger_entries.ref es UNIQUE → débitos/créditos idempotentes.
//   - Decimales como TEXT (exactos), tiempos como TEXT RFC3339 de ancho fijo.

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/updown/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
    id             TEXT PRIMARY KEY,
    number         INTEGER NOT NULL,
    start_time     TEXT NOT NULL,
    lock_time      TEXT NOT NULL,
    end_time       TEXT NOT NULL,
    start_price    TEXT NOT NULL,
    current_price  TEXT NOT NULL,
    final_price    TEXT,
    status         TEXT NOT NULL,
    house_profit   TEXT NOT NULL DEFAULT '0',
    aborted        INTEGER NOT NULL DEFAULT 0,
    needs_review   INTEGER NOT NULL DEFAULT 0,
    review_reason  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_rounds_status ON rounds(status);
CREATE INDEX IF NOT EXISTS idx_rounds_number ON rounds(number DESC);

CREATE TABLE IF NOT EXISTS wagers (
    id             TEXT PRIMARY KEY,
    round_id       TEXT NOT NULL,
    wallet         TEXT NOT NULL,
    amount         TEXT NOT NULL,
    direction      TEXT NOT NULL,
    payout_ratio   TEXT NOT NULL,
    is_settled     INTEGER NOT NULL DEFAULT 0,
    result         TEXT NOT NULL DEFAULT '',
    payout_amount  TEXT NOT NULL DEFAULT '0',
    entry_price    TEXT NOT NULL,
    placed_at      TEXT NOT NULL,
    settled_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_wagers_round  ON wagers(round_id);
CREATE INDEX IF NOT EXISTS idx_wagers_wallet ON wagers(wallet);

CREATE TABLE IF NOT EXISTS payouts (
    wager_id    TEXT PRIMARY KEY,
    round_id    TEXT NOT NULL,
    wallet      TEXT NOT NULL,
    amount      TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'PENDING',
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    sent_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status);
CREATE INDEX IF NOT EXISTS idx_payouts_round  ON payouts(round_id);

CREATE TABLE IF NOT EXISTS wallet_risk (
    wallet              TEXT PRIMARY KEY,
    consecutive_wins    INTEGER NOT NULL DEFAULT 0,
    consecutive_losses  INTEGER NOT NULL DEFAULT 0,
    total_wagers        INTEGER NOT NULL DEFAULT 0,
    total_wager_amount  TEXT NOT NULL DEFAULT '0',
    total_win_amount    TEXT NOT NULL DEFAULT '0',
    total_loss_amount   TEXT NOT NULL DEFAULT '0',
    is_blacklisted      INTEGER NOT NULL DEFAULT 0,
    is_whitelisted      INTEGER NOT NULL DEFAULT 0,
    cooldown_until      TEXT,
    updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_targets (
    date               TEXT PRIMARY KEY,
    start_balance      TEXT NOT NULL,
    current_balance    TEXT NOT NULL,
    target_percentage  TEXT NOT NULL,
    target_amount      TEXT NOT NULL,
    achieved_amount    TEXT NOT NULL,
    is_target_achieved INTEGER NOT NULL DEFAULT 0,
    total_rounds       INTEGER NOT NULL DEFAULT 0,
    profitable_rounds  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS wallets (
    wallet   TEXT PRIMARY KEY,
    balance  TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    ref        TEXT PRIMARY KEY,
    wallet     TEXT NOT NULL,
    amount     TEXT NOT NULL,   -- firmado: negativo = débito
    created_at TEXT NOT NULL
);
`

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ ports.Storage        = (*SQLiteStorage)(nil)
	_ ports.BalanceService = (*SQLiteStorage)(nil)
	_ ports.HouseAccount   = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
// ":memory:" sirve para tests: con una sola conexión la DB vive mientras el pool.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// timeLayout es de ancho fijo para que ORDER BY sobre TEXT respete el orden temporal.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func nullTimeVal(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
