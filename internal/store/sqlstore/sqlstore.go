// Package sqlstore implements store.Repository over database/sql. The postgres
// and sqlite packages supply a Dialect and an opened *sql.DB.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
)

// Dialect captures the differences between the supported SQL engines.
// Queries in this package are written with $n placeholders.
type Dialect struct {
	Name       string
	Migrations []string
	// Rebind rewrites $n placeholders when the driver expects another style.
	Rebind func(query string) string
	// ForUpdate is appended to row reads that must hold a lock.
	ForUpdate string
	// LockLedger runs before the ledger head is read; empty when the engine
	// already serializes writers.
	LockLedger string
	// NextSeq returns the next ledger sequence number as a single int64.
	NextSeq           string
	TxOptions         *sql.TxOptions
	IsUniqueViolation func(error) bool
	// TimeArg converts a timestamp into the driver's preferred parameter.
	TimeArg func(time.Time) any
}

var _ store.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB
	d  Dialect
}

// New runs the dialect migrations and returns a ready store.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if d.Rebind == nil {
		d.Rebind = func(q string) string { return q }
	}
	if d.TimeArg == nil {
		d.TimeArg = func(t time.Time) any { return t.UTC() }
	}
	if d.IsUniqueViolation == nil {
		d.IsUniqueViolation = func(error) bool { return false }
	}
	s := &Store{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("%s migrate: %w", d.Name, err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.Migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the handle for integration tests and maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.d.TxOptions)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{tx: sqlTx, s: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(query string) string {
	return s.d.Rebind(query)
}

func (s *Store) uniqueErr(err error) error {
	if err != nil && s.d.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	return err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return s.getCustomer(ctx, s.db, id, false)
}

func (s *Store) getCustomer(ctx context.Context, q queryer, id string, lock bool) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	if lock {
		query += s.d.ForUpdate
	}
	c, err := scanCustomer(q.QueryRowContext(ctx, s.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("customer", id)
	}
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+customerColumns+` FROM customers ORDER BY name, id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, s.db, id)
}

func (s *Store) getProduct(ctx context.Context, q queryer, id string) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, s.q(`SELECT `+productColumns+` FROM products WHERE id = $1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("product", id)
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+productColumns+` FROM products ORDER BY name, id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOrder(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error) {
	return s.getOrder(ctx, s.db, `idempotency_key = $1`, key, false)
}

func (s *Store) getOrder(ctx context.Context, q queryer, where string, arg string, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	if lock {
		query += s.d.ForUpdate
	}
	o, err := scanOrder(q.QueryRowContext(ctx, s.q(query), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("order", arg)
	}
	return o, err
}

func (s *Store) ListLedgerEntries(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	where, args := ledgerWhere(filter)
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries` + where + ` ORDER BY entry_date, seq`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		args = append(args, limit, max(filter.Offset, 0))
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	return s.queryLedger(ctx, s.db, query, args...)
}

func (s *Store) ListLedgerEntriesInSequence(ctx context.Context) ([]domain.LedgerEntry, error) {
	return s.queryLedger(ctx, s.db, `SELECT `+ledgerColumns+` FROM ledger_entries ORDER BY seq`)
}

func (s *Store) LastLedgerEntryBefore(ctx context.Context, t time.Time) (*domain.LedgerEntry, error) {
	entries, err := s.queryLedger(ctx, s.db, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE entry_date < $1
		ORDER BY entry_date DESC, seq DESC
		LIMIT 1
	`, s.d.TimeArg(t))
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) queryLedger(ctx context.Context, q queryer, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ledgerWhere builds the WHERE clause for a filter using $n placeholders.
func ledgerWhere(f domain.LedgerFilter) (string, []any) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 5)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Month != "" {
		add(`month = $%d`, f.Month)
	}
	if f.Type != "" {
		add(`type = $%d`, string(f.Type))
	}
	if f.Method != "" {
		add(`method = $%d`, string(f.Method))
	}
	if f.CustomerID != "" {
		add(`customer_id = $%d`, f.CustomerID)
	}
	if query := strings.ToLower(strings.TrimSpace(f.Query)); query != "" {
		args = append(args, "%"+likeEscaper.Replace(query)+"%")
		n := len(args)
		parts := make([]string, 0, 6)
		for _, col := range []string{"id", "description", "order_id", "customer_id", "product_id", "expense_id"} {
			parts = append(parts, fmt.Sprintf(`LOWER(%s) LIKE $%d ESCAPE '\'`, col, n))
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		clauses = append(clauses, fmt.Sprintf(`entity_type = $%d`, len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		clauses = append(clauses, fmt.Sprintf(`entity_id = $%d`, len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		clauses = append(clauses, fmt.Sprintf(`action = $%d`, len(args)))
	}
	query := `SELECT id, action, entity_type, entity_id, actor, detail, created_at FROM audit_logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Actor, &entry.Detail, timeCol{&entry.CreatedAt}); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`), user.Username, user.Password, user.Role, user.Active, s.d.TimeArg(user.CreatedAt))
	return s.uniqueErr(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT username, password, role, active, created_at FROM users ORDER BY username`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.UserAccount, 0)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, timeCol{&u.CreatedAt}); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET password = $1 WHERE username = $2`), password, username)
	if err != nil {
		return err
	}
	return requireRow(res, "user", username)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound(kind, id)
	}
	return nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
