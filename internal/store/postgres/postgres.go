package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/store/sqlstore"
)

// ledgerLockKey is the advisory lock that serializes ledger appends.
const ledgerLockKey = 727001

type Store struct {
	*sqlstore.Store
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := otelsql.Open("pgx", databaseURL,
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName("pharmakhata"),
	)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	base, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: base}, nil
}

// Dialect returns the postgres flavour of the shared SQL store. Row locks
// serialize balance mutations per customer and an advisory lock serializes
// the global ledger head.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "postgres",
		Migrations:        migrations,
		ForUpdate:         " FOR UPDATE",
		LockLedger:        fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", ledgerLockKey),
		NextSeq:           "SELECT nextval('ledger_entry_seq')",
		TxOptions:         &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		IsUniqueViolation: isUniqueViolation,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

var migrations = []string{
	`CREATE SEQUENCE IF NOT EXISTS ledger_entry_seq`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		price BIGINT NOT NULL CHECK (price >= 0),
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers (id),
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL DEFAULT '',
		items JSONB NOT NULL,
		payment_method TEXT NOT NULL,
		amount_tendered BIGINT NOT NULL DEFAULT 0,
		discount JSONB,
		sub_total BIGINT NOT NULL,
		discount_total BIGINT NOT NULL,
		tax_total BIGINT NOT NULL,
		grand_total BIGINT NOT NULL,
		amount_received BIGINT NOT NULL,
		advance_used BIGINT NOT NULL,
		balance BIGINT NOT NULL,
		change_due BIGINT NOT NULL,
		status TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_customer_idx ON orders (customer_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGINT PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		entry_date TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		method TEXT NOT NULL,
		credit BIGINT NOT NULL CHECK (credit >= 0),
		debit BIGINT NOT NULL CHECK (debit >= 0),
		running_balance BIGINT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		product_id TEXT NOT NULL DEFAULT '',
		expense_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		month TEXT NOT NULL,
		year INTEGER NOT NULL,
		month_number INTEGER NOT NULL,
		day INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_date_idx ON ledger_entries (entry_date, seq)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_customer_idx ON ledger_entries (customer_id, entry_date, seq)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_month_idx ON ledger_entries (month)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_entity_idx ON audit_logs (entity_type, entity_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	// Ledger history is append-only.
	`CREATE OR REPLACE FUNCTION ledger_entries_immutable() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'ledger entries are append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS ledger_entries_no_mutation ON ledger_entries`,
	`CREATE TRIGGER ledger_entries_no_mutation
		BEFORE UPDATE OR DELETE ON ledger_entries
		FOR EACH ROW EXECUTE FUNCTION ledger_entries_immutable()`,
}
