package balance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store/memory"
)

func TestAdjustReturnsPersistedValueAndAudits(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()

	var got money.Amount
	err := repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		got, err = Adjust(ctx, tx, Adjustment{
			CustomerID: "cus-ali-medical",
			Delta:      money.MustParse("-700"),
			Reason:     "order",
			Actor:      "staff",
			At:         time.Now().UTC(),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("-700"), got)

	c, err := repo.GetCustomer(ctx, "cus-ali-medical")
	require.NoError(t, err)
	assert.Equal(t, got, c.Balance)

	logs, err := repo.ListAuditLogs(ctx, domain.AuditFilter{EntityID: "cus-ali-medical", Action: AuditAction})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Detail, "reason=order")
	assert.Contains(t, logs[0].Detail, "balance=-700.00")

	entries, err := repo.ListLedgerEntriesInSequence(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries, "adjusting the register must not write the ledger")
}

func TestAdjustUnknownCustomer(t *testing.T) {
	repo := memory.New()
	err := repo.WithTx(context.Background(), func(tx store.Tx) error {
		_, err := Adjust(context.Background(), tx, Adjustment{CustomerID: "nobody", Delta: 1})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFromLedgerAttribution(t *testing.T) {
	entries := []domain.LedgerEntry{
		{Type: domain.EntryAdvance, Credit: money.MustParse("500")},
		{Type: domain.EntrySale, Debit: money.MustParse("1200")},
		{Type: domain.EntryPayment, Credit: money.MustParse("200")},
		{Type: domain.EntryAdjustment, Credit: money.MustParse("1200")},
		{Type: domain.EntryRefund, Debit: money.MustParse("200")},
		{Type: domain.EntryExpense, Debit: money.MustParse("999")},
		{Type: domain.EntryCommission, Credit: money.MustParse("999")},
	}
	assert.Equal(t, money.MustParse("500"), FromLedger(entries))
}

func TestAttributable(t *testing.T) {
	for _, typ := range []domain.EntryType{domain.EntrySale, domain.EntryPayment, domain.EntryAdvance, domain.EntryAdjustment, domain.EntryRefund} {
		assert.True(t, Attributable(typ), typ)
	}
	for _, typ := range []domain.EntryType{domain.EntryPurchase, domain.EntryExpense, domain.EntryCompanyRemit, domain.EntryCommission, domain.EntryOther} {
		assert.False(t, Attributable(typ), typ)
	}
}

func TestExceeds(t *testing.T) {
	assert.False(t, Exceeds(0, 0))
	assert.True(t, Exceeds(money.MustParse("-0.01"), 0))
	assert.False(t, Exceeds(money.MustParse("0.50"), money.MustParse("1")))
}
