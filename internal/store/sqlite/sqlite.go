// Package sqlite backs the repository with a single-file database for
// single-counter installs and tests.
package sqlite

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
}

// New opens path (or ":memory:") with one connection, which serializes every
// transaction and therefore every ledger append.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := otelsql.Open("sqlite", dsn(path),
		otelsql.WithDBSystem("sqlite"),
		otelsql.WithDBName("pharmakhata"),
	)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
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

func dsn(path string) string {
	pragmas := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path == ":memory:" || path == "" {
		return "file::memory:?" + pragmas
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?" + pragmas + "&_pragma=journal_mode(WAL)"
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:       "sqlite",
		Migrations: migrations,
		Rebind: func(query string) string {
			return placeholder.ReplaceAllString(query, "?$1")
		},
		NextSeq:           `SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_entries`,
		IsUniqueViolation: isUniqueViolation,
		TimeArg: func(t time.Time) any {
			return t.UTC().Format(sqlstore.TimeLayout)
		},
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		price INTEGER NOT NULL CHECK (price >= 0),
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers (id),
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL DEFAULT '',
		items TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		amount_tendered INTEGER NOT NULL DEFAULT 0,
		discount TEXT,
		sub_total INTEGER NOT NULL,
		discount_total INTEGER NOT NULL,
		tax_total INTEGER NOT NULL,
		grand_total INTEGER NOT NULL,
		amount_received INTEGER NOT NULL,
		advance_used INTEGER NOT NULL,
		balance INTEGER NOT NULL,
		change_due INTEGER NOT NULL,
		status TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_customer_idx ON orders (customer_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		entry_date TEXT NOT NULL,
		type TEXT NOT NULL,
		method TEXT NOT NULL,
		credit INTEGER NOT NULL CHECK (credit >= 0),
		debit INTEGER NOT NULL CHECK (debit >= 0),
		running_balance INTEGER NOT NULL,
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
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_date_idx ON ledger_entries (entry_date, seq)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_customer_idx ON ledger_entries (customer_id, entry_date, seq)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_month_idx ON ledger_entries (month)`,
	`CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger entries are append-only'); END`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_entity_idx ON audit_logs (entity_type, entity_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	)`,
}
