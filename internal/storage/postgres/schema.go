package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq" // registers the "postgres" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	currency   CHAR(3) NOT NULL,
	available  BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
	pending    BIGINT NOT NULL DEFAULT 0 CHECK (pending >= 0),
	blocked    BIGINT NOT NULL DEFAULT 0 CHECK (blocked >= 0),
	version    BIGINT NOT NULL DEFAULT 0,
	as_of      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence               BIGSERIAL PRIMARY KEY,
	id                     TEXT NOT NULL UNIQUE,
	account_id             TEXT NOT NULL REFERENCES accounts (account_id),
	kind                   TEXT NOT NULL,
	amount                 BIGINT NOT NULL CHECK (amount > 0),
	currency               CHAR(3) NOT NULL,
	related_transaction_id TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_entries_account_idx ON ledger_entries (account_id, sequence);

CREATE TABLE IF NOT EXISTS withdrawals (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL,
	method           TEXT NOT NULL,
	gross            BIGINT NOT NULL,
	fee              BIGINT NOT NULL,
	net              BIGINT NOT NULL,
	currency         CHAR(3) NOT NULL,
	pix_key          TEXT NOT NULL DEFAULT '',
	crypto_address   TEXT NOT NULL DEFAULT '',
	requested_at     TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL,
	rejection_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS withdrawals_account_requested_idx ON withdrawals (account_id, requested_at);

CREATE TABLE IF NOT EXISTS transactions (
	id              TEXT PRIMARY KEY,
	idempotency_key TEXT,
	account_id      TEXT NOT NULL,
	method          TEXT NOT NULL,
	gross           BIGINT NOT NULL,
	fee             BIGINT NOT NULL,
	net             BIGINT NOT NULL,
	currency        CHAR(3) NOT NULL,
	settled         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	settled_at      TIMESTAMPTZ,
	UNIQUE (account_id, idempotency_key)
);
`

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
