// Package storetest holds the behaviour every store.Repository must share.
// Ledger writes happen inside transactions that are rolled back so the suite
// can run against a long-lived database.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
)

type Factory func(t *testing.T) store.Repository

var errRollback = errors.New("storetest rollback")

func Run(t *testing.T, newRepo Factory) {
	t.Run("CustomerBalanceCommits", func(t *testing.T) { testCustomerBalanceCommits(t, newRepo(t)) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollbackDiscardsWrites(t, newRepo(t)) })
	t.Run("ConditionalStockDecrement", func(t *testing.T) { testConditionalStockDecrement(t, newRepo(t)) })
	t.Run("LedgerHeadFollowsDate", func(t *testing.T) { testLedgerHeadFollowsDate(t, newRepo(t)) })
	t.Run("DuplicateLedgerKey", func(t *testing.T) { testDuplicateLedgerKey(t, newRepo(t)) })
	t.Run("OrderIdempotency", func(t *testing.T) { testOrderIdempotency(t, newRepo(t)) })
}

func unique(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func seedCustomer(t *testing.T, repo store.Repository) domain.Customer {
	t.Helper()
	at := now()
	c := domain.Customer{ID: unique("st-cus"), Name: "Contract Customer", Role: domain.RoleCustomer, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, repo.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateCustomer(context.Background(), c)
	}))
	return c
}

func seedProduct(t *testing.T, repo store.Repository, qty int) domain.Product {
	t.Helper()
	at := now()
	p := domain.Product{ID: unique("st-prd"), Name: "Contract Product", Price: money.MustParse("12.50"), Quantity: qty, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, repo.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateProduct(context.Background(), p)
	}))
	return p
}

func testCustomerBalanceCommits(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	c := seedCustomer(t, repo)

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.GetCustomerForUpdate(ctx, c.ID)
		if err != nil {
			return err
		}
		return tx.SetCustomerBalance(ctx, locked.ID, money.MustParse("-250.75"), now())
	})
	require.NoError(t, err)

	got, err := repo.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("-250.75"), got.Balance)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetCustomerBalance(ctx, "st-missing-customer", 0, now())
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRollbackDiscardsWrites(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	c := seedCustomer(t, repo)
	p := seedProduct(t, repo, 5)

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.SetCustomerBalance(ctx, c.ID, money.MustParse("99"), now()); err != nil {
			return err
		}
		if _, err := tx.DecrementStock(ctx, p.ID, 3, now()); err != nil {
			return err
		}
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	gotCustomer, err := repo.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), gotCustomer.Balance)

	gotProduct, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, gotProduct.Quantity)
}

func testConditionalStockDecrement(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	p := seedProduct(t, repo, 4)

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		remaining, err := tx.DecrementStock(ctx, p.ID, 4, now())
		if err != nil {
			return err
		}
		assert.Equal(t, 0, remaining)
		return nil
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.DecrementStock(ctx, p.ID, 1, now())
		return err
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)
	assert.Equal(t, 1, stockErr.Requested)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.DecrementStock(ctx, "st-missing-product", 1, now())
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func ledgerEntry(t *testing.T, tx store.Tx, date time.Time, key string) domain.LedgerEntry {
	t.Helper()
	seq, err := tx.NextLedgerSeq(context.Background())
	require.NoError(t, err)
	return domain.LedgerEntry{
		ID:             unique(fmt.Sprintf("ST-%d", seq)),
		Seq:            seq,
		Date:           date,
		Type:           domain.EntryOther,
		Method:         domain.MethodCash,
		Credit:         money.MustParse("10"),
		RunningBalance: money.MustParse("10"),
		Month:          date.Format("2006-01"),
		Year:           date.Year(),
		MonthNumber:    int(date.Month()),
		Day:            date.Day(),
		IdempotencyKey: key,
		CreatedAt:      now(),
	}
}

func testLedgerHeadFollowsDate(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	future := time.Date(2999, time.January, 10, 12, 0, 0, 0, time.UTC)

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		later := ledgerEntry(t, tx, future, "")
		require.NoError(t, tx.InsertLedgerEntry(ctx, later))

		head, err := tx.LedgerHead(ctx)
		require.NoError(t, err)
		require.NotNil(t, head)
		assert.Equal(t, later.ID, head.ID)

		backdated := ledgerEntry(t, tx, future.Add(-48*time.Hour), "")
		require.NoError(t, tx.InsertLedgerEntry(ctx, backdated))
		head, err = tx.LedgerHead(ctx)
		require.NoError(t, err)
		assert.Equal(t, later.ID, head.ID, "a backdated entry must not become the head")

		sameDate := ledgerEntry(t, tx, future, "")
		require.NoError(t, tx.InsertLedgerEntry(ctx, sameDate))
		head, err = tx.LedgerHead(ctx)
		require.NoError(t, err)
		assert.Equal(t, sameDate.ID, head.ID, "equal dates tie-break on sequence")
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)
}

func testDuplicateLedgerKey(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	key := unique("st-idem")
	date := time.Date(2999, time.February, 1, 0, 0, 0, 0, time.UTC)

	err := repo.WithTx(ctx, func(tx store.Tx) error {
		first := ledgerEntry(t, tx, date, key)
		require.NoError(t, tx.InsertLedgerEntry(ctx, first))

		found, err := tx.FindLedgerEntryByIdempotency(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertLedgerEntry(ctx, ledgerEntry(t, tx, date, key)); err != nil {
			return err
		}
		return tx.InsertLedgerEntry(ctx, ledgerEntry(t, tx, date, key))
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	err = repo.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.FindLedgerEntryByIdempotency(ctx, key)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound, "the failed transaction must not leave the first entry behind")
}

func testOrderIdempotency(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	c := seedCustomer(t, repo)
	key := unique("st-order")
	at := now()

	order := domain.Order{
		ID:       unique("st-ord"),
		Customer: domain.OrderCustomer{ID: c.ID, Name: c.Name},
		Items: []domain.OrderItem{
			{ProductID: "prd-x", Name: "Item", Qty: 2, Price: money.MustParse("5"), Total: money.MustParse("10")},
		},
		Payment:        domain.OrderPayment{Method: domain.MethodCash, AmountTendered: money.MustParse("4")},
		Totals:         domain.OrderTotals{SubTotal: money.MustParse("10"), GrandTotal: money.MustParse("10"), AmountReceived: money.MustParse("4"), Balance: money.MustParse("6")},
		Status:         domain.OrderPartial,
		IdempotencyKey: key,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	require.NoError(t, repo.WithTx(ctx, func(tx store.Tx) error { return tx.CreateOrder(ctx, order) }))

	dup := order
	dup.ID = unique("st-ord")
	err := repo.WithTx(ctx, func(tx store.Tx) error { return tx.CreateOrder(ctx, dup) })
	require.ErrorIs(t, err, store.ErrDuplicate)

	found, err := repo.FindOrderByIdempotency(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	assert.Equal(t, order.Items, found.Items)
	assert.Equal(t, order.Totals, found.Totals)

	paid := order.Totals
	paid.AmountReceived = money.MustParse("10")
	paid.Balance = 0
	require.NoError(t, repo.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.GetOrderForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		return tx.UpdateOrderSettlement(ctx, locked.ID, paid, domain.OrderPaid, now())
	}))

	got, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)
	assert.Equal(t, paid, got.Totals)
}
