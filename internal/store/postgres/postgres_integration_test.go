package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("PHARMAKHATA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PHARMAKHATA_TEST_DATABASE_URL to run postgres integration tests")
	}
	s, err := New(context.Background(), databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return openTestStore(t) })
}

func TestCustomerRowLockSerializesBalanceUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := "it-cus-" + time.Now().Format("20060102150405.000000000")
	at := time.Now().UTC()

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateCustomer(ctx, domain.Customer{ID: id, Name: "Lock IT", Role: domain.RoleCustomer, CreatedAt: at, UpdatedAt: at})
	}))
	t.Cleanup(func() { _, _ = s.DB().ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id) })

	const workers = 12
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx store.Tx) error {
				c, err := tx.GetCustomerForUpdate(ctx, id)
				if err != nil {
					return err
				}
				return tx.SetCustomerBalance(ctx, id, c.Balance+money.MustParse("1.25"), time.Now().UTC())
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := s.GetCustomer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("15"), c.Balance)
}

func TestLedgerMutationTriggerInstalled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var exists bool
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'ledger_entries_no_mutation')`).Scan(&exists))
	assert.True(t, exists)
}
