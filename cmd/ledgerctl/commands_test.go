package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/app"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/config"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
)

func sqliteConfig(t *testing.T) func() config.Config {
	t.Helper()
	cfg := config.Config{
		SQLitePath:     filepath.Join(t.TempDir(), "khata.db"),
		LedgerTimezone: "UTC",
		LogMode:        "production",
	}
	return func() config.Config { return cfg }
}

func execute(t *testing.T, load func() config.Config, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(load, args, &out)
	return &out, err
}

func decodeOut[T any](t *testing.T, out *bytes.Buffer) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(out.Bytes(), &v), out.String())
	return v
}

// withRuntime opens the same store the commands use, for setup and tampering.
func withRuntime(t *testing.T, load func() config.Config, fn func(rt *app.Runtime)) {
	t.Helper()
	rt, err := app.Open(context.Background(), load(), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()
	fn(rt)
}

func TestLedgerctlAdvanceCheckAndReconcile(t *testing.T) {
	load := sqliteConfig(t)

	var customerID string
	withRuntime(t, load, func(rt *app.Runtime) {
		customer, err := rt.Service.CreateCustomer(context.Background(), domain.CustomerCreateRequest{Name: "Bismillah Medicos"})
		require.NoError(t, err)
		customerID = customer.ID
	})

	out, err := execute(t, load, "advance", "--customer", customerID, "--amount", "250.50", "--method", "jazzcash", "--idempotency-key", "adv-1")
	require.NoError(t, err)
	advance := decodeOut[domain.BalanceResult](t, out)
	assert.Equal(t, money.MustParse("250.50"), advance.Balance)
	require.NotNil(t, advance.Entry)
	assert.Equal(t, "ledgerctl", advance.Entry.CreatedBy)

	out, err = execute(t, load, "advance", "--customer", customerID, "--amount", "250.50", "--method", "jazzcash", "--idempotency-key", "adv-1")
	require.NoError(t, err)
	assert.True(t, decodeOut[domain.BalanceResult](t, out).Duplicate)

	out, err = execute(t, load, "check", "--customer", customerID)
	require.NoError(t, err)
	assert.False(t, decodeOut[domain.ReconcileResult](t, out).DriftAlert)

	withRuntime(t, load, func(rt *app.Runtime) {
		require.NoError(t, rt.Repo.WithTx(context.Background(), func(tx store.Tx) error {
			return tx.SetCustomerBalance(context.Background(), customerID, money.MustParse("9"), time.Now().UTC())
		}))
	})

	out, err = execute(t, load, "check", "--customer", customerID)
	var drift *domain.BalanceInconsistencyError
	require.True(t, errors.As(err, &drift), "expected drift error, got %v", err)
	assert.Equal(t, money.MustParse("9"), drift.Register)
	assert.True(t, decodeOut[domain.ReconcileResult](t, out).DriftAlert)

	out, err = execute(t, load, "reconcile", "--customer", customerID)
	require.NoError(t, err)
	repaired := decodeOut[domain.ReconcileResult](t, out)
	assert.Equal(t, money.MustParse("250.50"), repaired.Recalculated)
	assert.Equal(t, money.MustParse("241.50"), repaired.Delta)

	_, err = execute(t, load, "check", "--customer", customerID)
	require.NoError(t, err)

	out, err = execute(t, load, "reconcile", "--all")
	require.NoError(t, err)
	all := decodeOut[map[string][]domain.ReconcileResult](t, out)["results"]
	require.Len(t, all, 1)
	assert.Equal(t, money.Amount(0), all[0].Delta)
}

func TestLedgerctlEntriesSummaryAndVerify(t *testing.T) {
	load := sqliteConfig(t)

	var customerID string
	withRuntime(t, load, func(rt *app.Runtime) {
		customer, err := rt.Service.CreateCustomer(context.Background(), domain.CustomerCreateRequest{Name: "Al-Shifa Pharmacy"})
		require.NoError(t, err)
		customerID = customer.ID
	})

	_, err := execute(t, load, "advance", "--customer", customerID, "--amount", "1200", "--reference", "RCPT-77")
	require.NoError(t, err)

	out, err := execute(t, load, "entries", "--type", "advance", "--customer", customerID)
	require.NoError(t, err)
	entries := decodeOut[map[string][]domain.LedgerEntry](t, out)["entries"]
	require.Len(t, entries, 1)
	assert.Equal(t, money.MustParse("1200"), entries[0].Credit)
	assert.Equal(t, money.MustParse("1200"), entries[0].RunningBalance)

	out, err = execute(t, load, "entries", "--query", "RCPT-77")
	require.NoError(t, err)
	assert.Len(t, decodeOut[map[string][]domain.LedgerEntry](t, out)["entries"], 1)

	out, err = execute(t, load, "summary", "--month", entries[0].Month)
	require.NoError(t, err)
	summary := decodeOut[domain.MonthlySummary](t, out)
	assert.Equal(t, money.MustParse("1200"), summary.TotalCredit)
	assert.Equal(t, money.MustParse("1200"), summary.ClosingBalance)

	out, err = execute(t, load, "verify")
	require.NoError(t, err)
	assert.True(t, decodeOut[domain.ChainReport](t, out).OK())
}

func TestLedgerctlRejectsBadInvocations(t *testing.T) {
	load := sqliteConfig(t)

	_, err := execute(t, load, "reconcile")
	require.Error(t, err)

	_, err = execute(t, load, "reconcile", "--all", "--customer", "cus-x")
	require.Error(t, err)

	_, err = execute(t, load, "summary", "--month", "2025-13")
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)

	_, err = execute(t, load, "advance", "--customer", "cus-x", "--amount", "abc")
	require.Error(t, err)

	_, err = execute(t, load, "check", "--customer", "cus-missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}
