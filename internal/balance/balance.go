// Package balance owns the customer balance register: the single mutation
// path and the rules that attribute ledger entries to a customer.
package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/xid"
)

const AuditAction = "balance.adjust"

type Adjustment struct {
	CustomerID string
	Delta      money.Amount
	Reason     string
	Actor      string
	At         time.Time
}

// Adjust applies delta under the customer's row lock and returns the value
// read back after the write. It never touches the ledger.
func Adjust(ctx context.Context, tx store.Tx, adj Adjustment) (money.Amount, error) {
	if adj.At.IsZero() {
		adj.At = time.Now().UTC()
	}

	customer, err := tx.GetCustomerForUpdate(ctx, adj.CustomerID)
	if err != nil {
		return 0, err
	}
	want := customer.Balance + adj.Delta
	if err := tx.SetCustomerBalance(ctx, customer.ID, want, adj.At); err != nil {
		return 0, err
	}

	got, err := tx.GetCustomerBalance(ctx, customer.ID)
	if err != nil {
		return 0, err
	}
	if got != want {
		return 0, &domain.PersistenceError{
			Op:  "adjust balance",
			Err: fmt.Errorf("customer %s: wrote %s, read back %s", customer.ID, want, got),
		}
	}

	if err := tx.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Action:     AuditAction,
		EntityType: "customer",
		EntityID:   customer.ID,
		Actor:      adj.Actor,
		Detail:     fmt.Sprintf("reason=%s,previous=%s,delta=%s,balance=%s", adj.Reason, customer.Balance, adj.Delta, got),
		CreatedAt:  adj.At,
	}); err != nil {
		return 0, err
	}
	return got, nil
}

// Attribute returns the signed effect of e on its customer's balance and
// whether the entry type counts towards the register at all.
func Attribute(e domain.LedgerEntry) (money.Amount, bool) {
	switch e.Type {
	case domain.EntryPayment, domain.EntryAdvance:
		return e.Credit, true
	case domain.EntrySale:
		return -e.Debit, true
	case domain.EntryAdjustment:
		return e.Credit - e.Debit, true
	case domain.EntryRefund:
		return -e.Debit, true
	default:
		return 0, false
	}
}

// Attributable reports whether entries of type t move a customer balance.
func Attributable(t domain.EntryType) bool {
	_, ok := Attribute(domain.LedgerEntry{Type: t})
	return ok
}

// FromLedger recomputes a balance from a customer's entries.
func FromLedger(entries []domain.LedgerEntry) money.Amount {
	var total money.Amount
	for _, e := range entries {
		if delta, ok := Attribute(e); ok {
			total += delta
		}
	}
	return total
}

// Exceeds reports whether |drift| is strictly above tolerance.
func Exceeds(drift, tolerance money.Amount) bool {
	return drift.Abs() > tolerance.Abs()
}
