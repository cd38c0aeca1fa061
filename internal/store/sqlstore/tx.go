package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
)

var _ store.Tx = (*tx)(nil)

type tx struct {
	tx *sql.Tx
	s  *Store
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.s.q(query), args...)
	return res, t.s.uniqueErr(err)
}

func (t *tx) CreateCustomer(ctx context.Context, c domain.Customer) error {
	_, err := t.exec(ctx, `
		INSERT INTO customers (id, name, phone, role, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Name, c.Phone, c.Role, c.Balance.Minor(), t.s.d.TimeArg(c.CreatedAt), t.s.d.TimeArg(c.UpdatedAt))
	return err
}

func (t *tx) GetCustomerForUpdate(ctx context.Context, id string) (*domain.Customer, error) {
	return t.s.getCustomer(ctx, t.tx, id, true)
}

func (t *tx) GetCustomerBalance(ctx context.Context, id string) (money.Amount, error) {
	var balance money.Amount
	err := t.tx.QueryRowContext(ctx, t.s.q(`SELECT balance FROM customers WHERE id = $1`), id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NotFound("customer", id)
	}
	return balance, err
}

func (t *tx) SetCustomerBalance(ctx context.Context, id string, balance money.Amount, at time.Time) error {
	res, err := t.exec(ctx, `UPDATE customers SET balance = $1, updated_at = $2 WHERE id = $3`,
		balance.Minor(), t.s.d.TimeArg(at), id)
	if err != nil {
		return err
	}
	return requireRow(res, "customer", id)
}

func (t *tx) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := t.exec(ctx, `
		INSERT INTO products (id, sku, name, price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.SKU, p.Name, p.Price.Minor(), p.Quantity, t.s.d.TimeArg(p.CreatedAt), t.s.d.TimeArg(p.UpdatedAt))
	return err
}

func (t *tx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return t.s.getProduct(ctx, t.tx, id)
}

func (t *tx) DecrementStock(ctx context.Context, productID string, qty int, at time.Time) (int, error) {
	var remaining int
	err := t.tx.QueryRowContext(ctx, t.s.q(`
		UPDATE products
		SET quantity = quantity - $1, updated_at = $2
		WHERE id = $3 AND quantity >= $1
		RETURNING quantity
	`), qty, t.s.d.TimeArg(at), productID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	product, lookupErr := t.GetProduct(ctx, productID)
	if lookupErr != nil {
		return 0, lookupErr
	}
	return product.Quantity, &domain.InsufficientStockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		Available:   product.Quantity,
		Requested:   qty,
	}
}

func (t *tx) IncreaseStock(ctx context.Context, productID string, qty int, at time.Time) (int, error) {
	var remaining int
	err := t.tx.QueryRowContext(ctx, t.s.q(`
		UPDATE products
		SET quantity = quantity + $1, updated_at = $2
		WHERE id = $3
		RETURNING quantity
	`), qty, t.s.d.TimeArg(at), productID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NotFound("product", productID)
	}
	return remaining, err
}

func (t *tx) CreateOrder(ctx context.Context, o domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	var discount any
	if o.Discount != nil {
		raw, err := json.Marshal(o.Discount)
		if err != nil {
			return err
		}
		discount = string(raw)
	}

	_, err = t.exec(ctx, `
		INSERT INTO orders (
			id, customer_id, customer_name, customer_phone, items, payment_method, amount_tendered,
			discount, sub_total, discount_total, tax_total, grand_total, amount_received, advance_used,
			balance, change_due, status, idempotency_key, notes, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22
		)
	`,
		o.ID, o.Customer.ID, o.Customer.Name, o.Customer.Phone, string(items), string(o.Payment.Method), o.Payment.AmountTendered.Minor(),
		discount, o.Totals.SubTotal.Minor(), o.Totals.DiscountTotal.Minor(), o.Totals.TaxTotal.Minor(), o.Totals.GrandTotal.Minor(),
		o.Totals.AmountReceived.Minor(), o.Totals.AdvanceUsed.Minor(),
		o.Totals.Balance.Minor(), o.Totals.Change.Minor(), string(o.Status), nullIfEmpty(o.IdempotencyKey), o.Notes, o.CreatedBy,
		t.s.d.TimeArg(o.CreatedAt), t.s.d.TimeArg(o.UpdatedAt),
	)
	return err
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return t.s.getOrder(ctx, t.tx, `id = $1`, id, true)
}

func (t *tx) UpdateOrderSettlement(ctx context.Context, id string, totals domain.OrderTotals, status domain.OrderStatus, at time.Time) error {
	res, err := t.exec(ctx, `
		UPDATE orders
		SET amount_received = $1, advance_used = $2, balance = $3, change_due = $4, status = $5, updated_at = $6
		WHERE id = $7
	`, totals.AmountReceived.Minor(), totals.AdvanceUsed.Minor(), totals.Balance.Minor(), totals.Change.Minor(),
		string(status), t.s.d.TimeArg(at), id)
	if err != nil {
		return err
	}
	return requireRow(res, "order", id)
}

func (t *tx) LedgerHead(ctx context.Context) (*domain.LedgerEntry, error) {
	if t.s.d.LockLedger != "" {
		if _, err := t.tx.ExecContext(ctx, t.s.d.LockLedger); err != nil {
			return nil, err
		}
	}
	entries, err := t.s.queryLedger(ctx, t.tx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		ORDER BY entry_date DESC, seq DESC
		LIMIT 1
	`)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (t *tx) NextLedgerSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := t.tx.QueryRowContext(ctx, t.s.d.NextSeq).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (t *tx) InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	_, err := t.exec(ctx, `
		INSERT INTO ledger_entries (
			seq, id, entry_date, type, method, credit, debit, running_balance,
			order_id, customer_id, product_id, expense_id, description,
			month, year, month_number, day, idempotency_key, created_by, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20
		)
	`,
		e.Seq, e.ID, t.s.d.TimeArg(e.Date), string(e.Type), string(e.Method), e.Credit.Minor(), e.Debit.Minor(), e.RunningBalance.Minor(),
		e.Ref.OrderID, e.Ref.CustomerID, e.Ref.ProductID, e.Ref.ExpenseID, e.Description,
		e.Month, e.Year, e.MonthNumber, e.Day, nullIfEmpty(e.IdempotencyKey), e.CreatedBy, t.s.d.TimeArg(e.CreatedAt),
	)
	return err
}

func (t *tx) FindLedgerEntryByIdempotency(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	entries, err := t.s.queryLedger(ctx, t.tx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE idempotency_key = $1`, key)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.NotFound("ledger entry", key)
	}
	return &entries[0], nil
}

func (t *tx) CustomerLedgerEntries(ctx context.Context, customerID string) ([]domain.LedgerEntry, error) {
	return t.s.queryLedger(ctx, t.tx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE customer_id = $1
		ORDER BY entry_date, seq
	`, customerID)
}

func (t *tx) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := t.exec(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Actor, entry.Detail, t.s.d.TimeArg(entry.CreatedAt))
	return err
}
