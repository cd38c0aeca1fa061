package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
)

// TimeLayout is fixed-width so text timestamps sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	customerColumns = `id, name, phone, role, balance, created_at, updated_at`
	productColumns  = `id, sku, name, price, quantity, created_at, updated_at`
	orderColumns    = `id, customer_id, customer_name, customer_phone, items, payment_method, amount_tendered,
		discount, sub_total, discount_total, tax_total, grand_total, amount_received, advance_used,
		balance, change_due, status, idempotency_key, notes, created_by, created_at, updated_at`
	ledgerColumns = `seq, id, entry_date, type, method, credit, debit, running_balance,
		order_id, customer_id, product_id, expense_id, description,
		month, year, month_number, day, idempotency_key, created_by, created_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// timeCol scans TIMESTAMPTZ values as well as the text form used by sqlite.
type timeCol struct {
	t *time.Time
}

func (c timeCol) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*c.t = v.UTC()
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	case nil:
		*c.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
}

func (c timeCol) parse(raw string) error {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*c.t = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unrecognised timestamp %q", raw)
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Role, &c.Balance, timeCol{&c.CreatedAt}, timeCol{&c.UpdatedAt}); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Quantity, timeCol{&p.CreatedAt}, timeCol{&p.UpdatedAt}); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o           domain.Order
		items       []byte
		discount    sql.NullString
		idempotency sql.NullString
		method      string
		status      string
	)
	if err := row.Scan(
		&o.ID, &o.Customer.ID, &o.Customer.Name, &o.Customer.Phone, &items, &method, &o.Payment.AmountTendered,
		&discount, &o.Totals.SubTotal, &o.Totals.DiscountTotal, &o.Totals.TaxTotal, &o.Totals.GrandTotal,
		&o.Totals.AmountReceived, &o.Totals.AdvanceUsed, &o.Totals.Balance, &o.Totals.Change,
		&status, &idempotency, &o.Notes, &o.CreatedBy, timeCol{&o.CreatedAt}, timeCol{&o.UpdatedAt},
	); err != nil {
		return nil, err
	}
	o.Payment.Method = domain.PaymentMethod(method)
	o.Status = domain.OrderStatus(status)
	o.IdempotencyKey = idempotency.String
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order %s items: %w", o.ID, err)
	}
	if discount.Valid && discount.String != "" {
		var d domain.OrderDiscount
		if err := json.Unmarshal([]byte(discount.String), &d); err != nil {
			return nil, fmt.Errorf("decode order %s discount: %w", o.ID, err)
		}
		o.Discount = &d
	}
	return &o, nil
}

func scanLedgerEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var (
		e           domain.LedgerEntry
		entryType   string
		method      string
		idempotency sql.NullString
	)
	if err := row.Scan(
		&e.Seq, &e.ID, timeCol{&e.Date}, &entryType, &method, &e.Credit, &e.Debit, &e.RunningBalance,
		&e.Ref.OrderID, &e.Ref.CustomerID, &e.Ref.ProductID, &e.Ref.ExpenseID, &e.Description,
		&e.Month, &e.Year, &e.MonthNumber, &e.Day, &idempotency, &e.CreatedBy, timeCol{&e.CreatedAt},
	); err != nil {
		return nil, err
	}
	e.Type = domain.EntryType(entryType)
	e.Method = domain.PaymentMethod(method)
	e.IdempotencyKey = idempotency.String
	return &e, nil
}
