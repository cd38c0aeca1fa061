package memory

import (
	"context"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
)

var _ store.Tx = (*txn)(nil)

// txn mutates the store in place and records an undo step for every write.
// It is only valid while WithTx holds the store lock.
type txn struct {
	s    *Store
	undo []func()
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txn) CreateCustomer(_ context.Context, customer domain.Customer) error {
	if _, exists := t.s.customers[customer.ID]; exists {
		return store.ErrDuplicate
	}
	t.s.customers[customer.ID] = customer
	t.undo = append(t.undo, func() { delete(t.s.customers, customer.ID) })
	return nil
}

func (t *txn) GetCustomerForUpdate(_ context.Context, id string) (*domain.Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return nil, domain.NotFound("customer", id)
	}
	return &c, nil
}

func (t *txn) GetCustomerBalance(_ context.Context, id string) (money.Amount, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return 0, domain.NotFound("customer", id)
	}
	return c.Balance, nil
}

func (t *txn) SetCustomerBalance(_ context.Context, id string, balance money.Amount, at time.Time) error {
	prev, ok := t.s.customers[id]
	if !ok {
		return domain.NotFound("customer", id)
	}
	next := prev
	next.Balance = balance
	next.UpdatedAt = at
	t.s.customers[id] = next
	t.undo = append(t.undo, func() { t.s.customers[id] = prev })
	return nil
}

func (t *txn) CreateProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.s.products[product.ID]; exists {
		return store.ErrDuplicate
	}
	t.s.products[product.ID] = product
	t.undo = append(t.undo, func() { delete(t.s.products, product.ID) })
	return nil
}

func (t *txn) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	return &p, nil
}

func (t *txn) DecrementStock(_ context.Context, productID string, qty int, at time.Time) (int, error) {
	prev, ok := t.s.products[productID]
	if !ok {
		return 0, domain.NotFound("product", productID)
	}
	if prev.Quantity < qty {
		return prev.Quantity, &domain.InsufficientStockError{
			ProductID:   prev.ID,
			ProductName: prev.Name,
			Available:   prev.Quantity,
			Requested:   qty,
		}
	}
	return t.setQuantity(prev, prev.Quantity-qty, at), nil
}

func (t *txn) IncreaseStock(_ context.Context, productID string, qty int, at time.Time) (int, error) {
	prev, ok := t.s.products[productID]
	if !ok {
		return 0, domain.NotFound("product", productID)
	}
	return t.setQuantity(prev, prev.Quantity+qty, at), nil
}

func (t *txn) setQuantity(prev domain.Product, qty int, at time.Time) int {
	next := prev
	next.Quantity = qty
	next.UpdatedAt = at
	t.s.products[prev.ID] = next
	t.undo = append(t.undo, func() { t.s.products[prev.ID] = prev })
	return qty
}

func (t *txn) CreateOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.s.orders[order.ID]; exists {
		return store.ErrDuplicate
	}
	if order.IdempotencyKey != "" {
		if _, exists := t.s.ordersByIdem[order.IdempotencyKey]; exists {
			return store.ErrDuplicate
		}
		t.s.ordersByIdem[order.IdempotencyKey] = order.ID
	}
	t.s.orders[order.ID] = *cloneOrder(order)
	t.undo = append(t.undo, func() {
		delete(t.s.orders, order.ID)
		if order.IdempotencyKey != "" {
			delete(t.s.ordersByIdem, order.IdempotencyKey)
		}
	})
	return nil
}

func (t *txn) GetOrderForUpdate(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, domain.NotFound("order", id)
	}
	return cloneOrder(o), nil
}

func (t *txn) UpdateOrderSettlement(_ context.Context, id string, totals domain.OrderTotals, status domain.OrderStatus, at time.Time) error {
	prev, ok := t.s.orders[id]
	if !ok {
		return domain.NotFound("order", id)
	}
	next := *cloneOrder(prev)
	next.Totals = totals
	next.Status = status
	next.UpdatedAt = at
	t.s.orders[id] = next
	t.undo = append(t.undo, func() { t.s.orders[id] = prev })
	return nil
}

func (t *txn) LedgerHead(_ context.Context) (*domain.LedgerEntry, error) {
	if t.s.head < 0 {
		return nil, nil
	}
	head := t.s.ledger[t.s.head]
	return &head, nil
}

func (t *txn) NextLedgerSeq(_ context.Context) (int64, error) {
	prev := t.s.seq
	t.s.seq++
	t.undo = append(t.undo, func() { t.s.seq = prev })
	return t.s.seq, nil
}

func (t *txn) InsertLedgerEntry(_ context.Context, entry domain.LedgerEntry) error {
	if _, exists := t.s.ledgerIDs[entry.ID]; exists {
		return store.ErrDuplicate
	}
	if entry.IdempotencyKey != "" {
		if _, exists := t.s.ledgerByIdem[entry.IdempotencyKey]; exists {
			return store.ErrDuplicate
		}
		t.s.ledgerByIdem[entry.IdempotencyKey] = len(t.s.ledger)
	}

	prevHead := t.s.head
	t.s.ledger = append(t.s.ledger, entry)
	idx := len(t.s.ledger) - 1
	t.s.ledgerIDs[entry.ID] = idx
	if prevHead < 0 || t.s.ledger[prevHead].Before(entry) {
		t.s.head = idx
	}

	t.undo = append(t.undo, func() {
		t.s.ledger = t.s.ledger[:idx]
		t.s.head = prevHead
		delete(t.s.ledgerIDs, entry.ID)
		if entry.IdempotencyKey != "" {
			delete(t.s.ledgerByIdem, entry.IdempotencyKey)
		}
	})
	return nil
}

func (t *txn) FindLedgerEntryByIdempotency(_ context.Context, key string) (*domain.LedgerEntry, error) {
	idx, ok := t.s.ledgerByIdem[key]
	if !ok {
		return nil, domain.NotFound("ledger entry", key)
	}
	e := t.s.ledger[idx]
	return &e, nil
}

func (t *txn) CustomerLedgerEntries(_ context.Context, customerID string) ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, 0)
	for _, e := range t.s.ledger {
		if e.Ref.CustomerID == customerID {
			out = append(out, e)
		}
	}
	sortLedger(out)
	return out, nil
}

func (t *txn) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	t.s.auditLogs = append(t.s.auditLogs, entry)
	n := len(t.s.auditLogs) - 1
	t.undo = append(t.undo, func() { t.s.auditLogs = t.s.auditLogs[:n] })
	return nil
}
