package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/balance"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/cache"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store/memory"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store/sqlite"
)

const (
	aliMedical  = "cus-ali-medical"
	shifaClinic = "cus-shifa-clinic"
	panadol     = "prd-panadol-500"
	ors         = "prd-ors-sachet"
)

var testClock = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, store.Repository) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, nil, nil, Options{Now: func() time.Time { return testClock }}), repo
}

func staffContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
}

func amt(s string) money.Amount {
	return money.MustParse(s)
}

func cashPayment(amount string) *domain.OrderPaymentInput {
	return &domain.OrderPaymentInput{Method: domain.MethodCash, AmountReceived: amt(amount)}
}

func requireBalance(t *testing.T, svc *Service, customerID string, want string) {
	t.Helper()
	customer, err := svc.GetCustomer(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, amt(want), customer.Balance, "register balance of %s", customerID)
}

// requireConsistent checks the register against the ledger and the running
// balance chain.
func requireConsistent(t *testing.T, svc *Service, customerIDs ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range customerIDs {
		result, err := svc.CheckBalance(ctx, id)
		require.NoError(t, err, "customer %s", id)
		assert.Zero(t, result.Delta, "customer %s", id)
	}
	report, err := svc.VerifyLedgerChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "chain violations: %+v", report.Violations)
}

func TestAdvanceIsConsumedByNextOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	advance, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{
		CustomerID: aliMedical, Amount: amt("1000"), Method: domain.MethodJazzCash, Reference: "JC-7781",
	})
	require.NoError(t, err)
	assert.Equal(t, amt("1000"), advance.Balance)
	assert.Equal(t, domain.EntryAdvance, advance.Entry.Type)

	result, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer: domain.OrderCustomerRef{ID: aliMedical},
		Items:    []domain.OrderItemRequest{{ProductID: panadol, Qty: 1}},
		Payment:  cashPayment("300"),
	})
	require.NoError(t, err)

	totals := result.Order.Totals
	assert.Equal(t, amt("1450"), totals.GrandTotal)
	assert.Equal(t, amt("1000"), totals.AdvanceUsed)
	assert.Equal(t, amt("300"), totals.AmountReceived)
	assert.Equal(t, amt("150"), totals.Balance)
	assert.Equal(t, domain.OrderPartial, result.Order.Status)
	assert.Equal(t, amt("-150"), result.CustomerBalance)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, domain.EntrySale, result.Entries[0].Type)
	assert.Equal(t, domain.EntryPayment, result.Entries[1].Type)

	requireBalance(t, svc, aliMedical, "-150")
	requireConsistent(t, svc, aliMedical)

	product, err := svc.FindProduct(ctx, panadol)
	require.NoError(t, err)
	assert.Equal(t, 119, product.Quantity)
}

func TestOverpaymentBecomesChange(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.CreateOrder(staffContext(), domain.OrderCreateRequest{
		Customer: domain.OrderCustomerRef{ID: shifaClinic},
		Items:    []domain.OrderItemRequest{{ProductID: ors, Qty: 2}},
		Payment:  cashPayment("100"),
	})
	require.NoError(t, err)

	assert.Equal(t, amt("70"), result.Order.Totals.AmountReceived)
	assert.Equal(t, amt("30"), result.Order.Totals.Change)
	assert.Equal(t, domain.OrderPaid, result.Order.Status)
	assert.Zero(t, result.CustomerBalance)
	requireConsistent(t, svc, shifaClinic)
}

func TestOnAccountOrderThenPaymentAndCompletion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	created, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer: domain.OrderCustomerRef{ID: shifaClinic},
		Items: []domain.OrderItemRequest{
			{ProductID: panadol, Qty: 2, DiscountValue: amt("100")},
			{ProductID: ors, Qty: 10},
		},
		OrderDiscount: &domain.OrderDiscount{Type: domain.DiscountFlat, Value: amt("50").Decimal()},
	})
	require.NoError(t, err)
	assert.Equal(t, amt("3250"), created.Order.Totals.SubTotal)
	assert.Equal(t, amt("150"), created.Order.Totals.DiscountTotal)
	assert.Equal(t, amt("3100"), created.Order.Totals.GrandTotal)
	assert.Equal(t, domain.OrderCreated, created.Order.Status)
	assert.Equal(t, domain.MethodOnAccount, created.Order.Payment.Method)
	require.Len(t, created.Entries, 1, "on-account orders record only the sale")
	requireBalance(t, svc, shifaClinic, "-3100")

	_, err = svc.CompleteOrder(ctx, created.Order.ID)
	require.ErrorIs(t, err, domain.ErrConflict)

	partial, err := svc.RecordOrderPayment(ctx, created.Order.ID, domain.OrderPaymentRequest{
		Amount: amt("1000"), Method: domain.MethodBank, IdempotencyKey: "pay-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPartial, partial.Order.Status)
	assert.Equal(t, amt("2100"), partial.Order.Totals.Balance)

	again, err := svc.RecordOrderPayment(ctx, created.Order.ID, domain.OrderPaymentRequest{
		Amount: amt("1000"), Method: domain.MethodBank, IdempotencyKey: "pay-1",
	})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	requireBalance(t, svc, shifaClinic, "-2100")

	settled, err := svc.RecordOrderPayment(ctx, created.Order.ID, domain.OrderPaymentRequest{
		Amount: amt("2500"), Method: domain.MethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, settled.Order.Status)
	assert.Equal(t, amt("3100"), settled.Order.Totals.AmountReceived)
	assert.Equal(t, amt("400"), settled.Order.Totals.Change)
	requireBalance(t, svc, shifaClinic, "0")

	_, err = svc.RecordOrderPayment(ctx, created.Order.ID, domain.OrderPaymentRequest{Amount: amt("1"), Method: domain.MethodCash})
	require.ErrorIs(t, err, domain.ErrConflict)

	completed, err := svc.CompleteOrder(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, completed.Order.Status)
	assert.Len(t, completed.Entries, 3)

	_, err = svc.CancelOrder(ctx, created.Order.ID, domain.CancelOrderRequest{Reason: "too late"})
	require.ErrorIs(t, err, domain.ErrConflict)
	requireConsistent(t, svc, shifaClinic)
}

func TestCancelOrderRestoresStockAndBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	_, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("500"), Method: domain.MethodCash})
	require.NoError(t, err)

	created, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer: domain.OrderCustomerRef{ID: aliMedical},
		Items:    []domain.OrderItemRequest{{ProductID: panadol, Qty: 3}},
		Payment:  cashPayment("1000"),
	})
	require.NoError(t, err)
	requireBalance(t, svc, aliMedical, "-2850")

	cancelled, err := svc.CancelOrder(ctx, created.Order.ID, domain.CancelOrderRequest{Reason: "wrong strength"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Order.Status)
	require.Len(t, cancelled.Entries, 2)
	assert.Equal(t, domain.EntryAdjustment, cancelled.Entries[0].Type)
	assert.Equal(t, amt("4350"), cancelled.Entries[0].Credit)
	assert.Equal(t, domain.EntryRefund, cancelled.Entries[1].Type)
	assert.Equal(t, amt("1000"), cancelled.Entries[1].Debit)

	requireBalance(t, svc, aliMedical, "500")
	product, err := svc.FindProduct(ctx, panadol)
	require.NoError(t, err)
	assert.Equal(t, 120, product.Quantity)

	_, err = svc.CancelOrder(ctx, created.Order.ID, domain.CancelOrderRequest{Reason: "twice"})
	require.ErrorIs(t, err, domain.ErrConflict)
	requireConsistent(t, svc, aliMedical)
}

func TestInsufficientStockWritesNothing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := staffContext()

	_, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer: domain.OrderCustomerRef{ID: aliMedical},
		Items: []domain.OrderItemRequest{
			{ProductID: panadol, Qty: 100},
			{ProductID: panadol, Qty: 21},
		},
		Payment: cashPayment("5000"),
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 121, stockErr.Requested)
	assert.Equal(t, 120, stockErr.Available)

	entries, err := repo.ListLedgerEntriesInSequence(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	requireBalance(t, svc, aliMedical, "0")
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	tests := []struct {
		name  string
		req   domain.OrderCreateRequest
		field string
	}{
		{
			name:  "no items",
			req:   domain.OrderCreateRequest{Customer: domain.OrderCustomerRef{ID: aliMedical}},
			field: "items",
		},
		{
			name: "zero quantity",
			req: domain.OrderCreateRequest{
				Customer: domain.OrderCustomerRef{ID: aliMedical},
				Items:    []domain.OrderItemRequest{{ProductID: ors, Qty: 0}},
			},
			field: "items[0].qty",
		},
		{
			name: "line discount above line total",
			req: domain.OrderCreateRequest{
				Customer: domain.OrderCustomerRef{ID: aliMedical},
				Items:    []domain.OrderItemRequest{{ProductID: ors, Qty: 1, DiscountValue: amt("36")}},
			},
			field: "items[0].discount_value",
		},
		{
			name: "unknown payment method",
			req: domain.OrderCreateRequest{
				Customer: domain.OrderCustomerRef{ID: aliMedical},
				Items:    []domain.OrderItemRequest{{ProductID: ors, Qty: 1}},
				Payment:  &domain.OrderPaymentInput{Method: "barter"},
			},
			field: "payment.method",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateOrder(ctx, tc.req)
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tc.field)
		})
	}

	_, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer: domain.OrderCustomerRef{ID: "sup-getz-pharma"},
		Items:    []domain.OrderItemRequest{{ProductID: ors, Qty: 1}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer: domain.OrderCustomerRef{ID: "cus-nobody"},
		Items:    []domain.OrderItemRequest{{ProductID: ors, Qty: 1}},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateOrderIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := staffContext()
	req := domain.OrderCreateRequest{
		Customer:       domain.OrderCustomerRef{ID: aliMedical},
		Items:          []domain.OrderItemRequest{{ProductID: ors, Qty: 4}},
		Payment:        cashPayment("140"),
		IdempotencyKey: "till-3-0042",
	}

	first, err := svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	second, err := svc.CreateOrder(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, second.Entries, 2)

	product, err := repo.GetProduct(context.Background(), ors)
	require.NoError(t, err)
	assert.Equal(t, 996, product.Quantity)

	entries, err := repo.ListLedgerEntriesInSequence(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestConcurrentAdvancesOnOneCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("10.10"), Method: domain.MethodCash})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	requireBalance(t, svc, aliMedical, "252.50")
	requireConsistent(t, svc, aliMedical)
}

func TestRecordAdvanceIdempotencyKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()
	req := domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("250"), Method: domain.MethodCash, IdempotencyKey: "adv-1"}

	first, err := svc.RecordAdvance(ctx, req)
	require.NoError(t, err)
	second, err := svc.RecordAdvance(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	requireBalance(t, svc, aliMedical, "250")

	_, err = svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: shifaClinic, Amount: amt("250"), Method: domain.MethodCash, IdempotencyKey: "adv-1"})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateCustomerWithOpeningBalances(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := staffContext()

	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{
		Name: "  Rehman Pharmacy ", Phone: "0300-1112223",
		InitialAdvance: amt("2000"), InitialDebt: amt("3500"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Rehman Pharmacy", customer.Name)
	assert.Equal(t, domain.RoleCustomer, customer.Role)
	assert.Equal(t, amt("-1500"), customer.Balance)

	requireBalance(t, svc, customer.ID, "-1500")
	requireConsistent(t, svc, customer.ID)

	logs, err := repo.ListAuditLogs(context.Background(), domain.AuditFilter{EntityType: "customer", EntityID: customer.ID, Action: balance.AuditAction})
	require.NoError(t, err)
	assert.Len(t, logs, 1, "opening balances adjust the register once")

	_, err = svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "   "})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecordDebt(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.RecordDebt(staffContext(), domain.DebtRequest{CustomerID: shifaClinic, Amount: amt("780.25"), Reference: "old khata"})
	require.NoError(t, err)
	assert.Equal(t, amt("-780.25"), result.Balance)
	assert.Equal(t, domain.EntrySale, result.Entry.Type)
	assert.Equal(t, domain.MethodOnAccount, result.Entry.Method)
	assert.Equal(t, "Debt recorded: old khata", result.Entry.Description)

	_, err = svc.RecordDebt(staffContext(), domain.DebtRequest{CustomerID: shifaClinic, Amount: 0})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestManualEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	_, err := svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{
		Type: domain.EntryPayment, Method: domain.MethodCash, Credit: amt("100"),
		Ref: domain.LedgerRef{CustomerID: aliMedical},
	})
	var fieldErr *domain.ValidationError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "ref.customer_id", fieldErr.Field)

	purchase, err := svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{
		Type: domain.EntryPurchase, Method: domain.MethodBank, Debit: amt("12000"), Description: "Getz monthly stock",
	})
	require.NoError(t, err)
	assert.Equal(t, amt("-12000"), purchase.RunningBalance)

	commission, err := svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{
		Type: domain.EntryCommission, Method: domain.MethodBank, Credit: amt("900"),
		Ref: domain.LedgerRef{CustomerID: aliMedical}, IdempotencyKey: "comm-03",
	})
	require.NoError(t, err)
	assert.Equal(t, amt("-11100"), commission.RunningBalance)

	again, err := svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{
		Type: domain.EntryCommission, Method: domain.MethodBank, Credit: amt("900"),
		Ref: domain.LedgerRef{CustomerID: aliMedical}, IdempotencyKey: "comm-03",
	})
	require.NoError(t, err)
	assert.Equal(t, commission.ID, again.ID)

	requireBalance(t, svc, aliMedical, "0")
	requireConsistent(t, svc, aliMedical)

	_, err = svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{Type: domain.EntryExpense, Method: domain.MethodCash})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestReconcileRepairsDrift(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, nil, nil, Options{DriftTolerance: amt("1"), Now: func() time.Time { return testClock }})
	ctx := staffContext()

	_, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("400"), Method: domain.MethodCash})
	require.NoError(t, err)

	// Corrupt the register behind the service's back.
	require.NoError(t, repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetCustomerBalance(ctx, aliMedical, amt("425"), testClock)
	}))

	_, err = svc.CheckBalance(ctx, aliMedical)
	var drift *domain.BalanceInconsistencyError
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, amt("-25"), drift.Drift)

	result, err := svc.RecalculateFromLedger(ctx, aliMedical)
	require.NoError(t, err)
	assert.Equal(t, amt("425"), result.Previous)
	assert.Equal(t, amt("400"), result.Recalculated)
	assert.Equal(t, amt("-25"), result.Delta)
	assert.True(t, result.DriftAlert)
	requireBalance(t, svc, aliMedical, "400")

	second, err := svc.RecalculateFromLedger(ctx, aliMedical)
	require.NoError(t, err)
	assert.Zero(t, second.Delta)

	logs, err := svc.ListAuditLogs(ctx, domain.AuditFilter{Action: "balance.inconsistency"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, aliMedical, logs[0].EntityID)

	// Drift inside tolerance is repaired quietly.
	require.NoError(t, repo.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetCustomerBalance(ctx, aliMedical, amt("400.50"), testClock)
	}))
	quiet, err := svc.RecalculateFromLedger(ctx, aliMedical)
	require.NoError(t, err)
	assert.False(t, quiet.DriftAlert)
	assert.Equal(t, amt("-0.50"), quiet.Delta)
}

func TestReconcileAllHoldsJobLease(t *testing.T) {
	jobs := cache.NewLocalJobLocker()
	svc := New(memory.NewSeeded(), nil, nil, Options{Jobs: jobs})
	ctx := staffContext()

	lease, err := jobs.Acquire(ctx, reconcileAllJob, time.Minute)
	require.NoError(t, err)
	_, err = svc.ReconcileAll(ctx)
	require.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, lease.Release(ctx))

	results, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.Zero(t, r.Delta, r.CustomerID)
	}
}

type recordingLease struct {
	mu        sync.Mutex
	refreshes int
	lostAfter int
	released  bool
}

func (l *recordingLease) Refresh(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lostAfter > 0 && l.refreshes >= l.lostAfter {
		return cache.ErrLeaseLost
	}
	l.refreshes++
	return nil
}

func (l *recordingLease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

type recordingLocker struct{ lease *recordingLease }

func (r recordingLocker) Acquire(context.Context, string, time.Duration) (cache.Lease, error) {
	return r.lease, nil
}

func seedCustomers(t *testing.T, svc *Service, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := svc.CreateCustomer(staffContext(), domain.CustomerCreateRequest{Name: fmt.Sprintf("Pharmacy %03d", i)})
		require.NoError(t, err)
	}
}

func TestReconcileAllRefreshesLeasePerBatch(t *testing.T) {
	lease := &recordingLease{}
	svc := New(memory.NewSeeded(), nil, nil, Options{Jobs: recordingLocker{lease: lease}, Now: func() time.Time { return testClock }})
	seedCustomers(t, svc, 100)

	results, err := svc.ReconcileAll(staffContext())
	require.NoError(t, err)
	assert.Len(t, results, 103)
	assert.Equal(t, 2, lease.refreshes)
	assert.True(t, lease.released)
}

func TestReconcileAllStopsWhenLeaseIsLost(t *testing.T) {
	lease := &recordingLease{lostAfter: 1}
	svc := New(memory.NewSeeded(), nil, nil, Options{Jobs: recordingLocker{lease: lease}, Now: func() time.Time { return testClock }})
	seedCustomers(t, svc, 100)

	results, err := svc.ReconcileAll(staffContext())
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, results, 2*reconcileBatch)
	assert.True(t, lease.released)
}

// countingCache keys summaries by generation like the real caches. beforeSet
// runs between computing a summary and storing it.
type countingCache struct {
	mu          sync.Mutex
	gen         int64
	values      map[string]*domain.MonthlySummary
	invalidated int
	beforeSet   func()
}

func (c *countingCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *countingCache) Get(_ context.Context, gen int64, month string) (*domain.MonthlySummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[fmt.Sprintf("%d:%s", gen, month)]
	return v, ok, nil
}

func (c *countingCache) Set(_ context.Context, gen int64, month string, v *domain.MonthlySummary, _ time.Duration) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]*domain.MonthlySummary{}
	}
	c.values[fmt.Sprintf("%d:%s", gen, month)] = v
	return nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.values = nil
	c.invalidated++
	return nil
}

func TestMonthlySummaryWriteDuringComputeIsNotServed(t *testing.T) {
	summaries := &countingCache{}
	svc := New(memory.NewSeeded(), summaries, nil, Options{Now: func() time.Time { return testClock }})
	ctx := staffContext()

	_, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("300"), Method: domain.MethodCash})
	require.NoError(t, err)

	summaries.beforeSet = func() {
		_, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: shifaClinic, Amount: amt("200"), Method: domain.MethodCash})
		require.NoError(t, err)
	}
	stale, err := svc.GetMonthlySummary(ctx, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, 1, stale.EntryCount)

	fresh, err := svc.GetMonthlySummary(ctx, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.EntryCount)
	assert.Equal(t, amt("500"), fresh.ClosingBalance)
}

func TestMonthlySummaryIsCachedUntilNextWrite(t *testing.T) {
	summaries := &countingCache{}
	svc := New(memory.NewSeeded(), summaries, nil, Options{Now: func() time.Time { return testClock }})
	ctx := staffContext()

	february := time.Date(2025, time.February, 20, 10, 0, 0, 0, time.UTC)
	_, err := svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{
		Date: &february, Type: domain.EntryOther, Method: domain.MethodCash, Credit: amt("5000"), Description: "opening cash",
	})
	require.NoError(t, err)
	_, err = svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{Type: domain.EntryExpense, Method: domain.MethodCash, Debit: amt("1200")})
	require.NoError(t, err)
	_, err = svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("300"), Method: domain.MethodJazzCash})
	require.NoError(t, err)

	summary, err := svc.GetMonthlySummary(ctx, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, amt("5000"), summary.OpeningBalance)
	assert.Equal(t, amt("4100"), summary.ClosingBalance)
	assert.Equal(t, amt("300"), summary.TotalCredit)
	assert.Equal(t, amt("1200"), summary.TotalDebit)
	assert.Equal(t, 2, summary.EntryCount)

	cached, err := svc.GetMonthlySummary(ctx, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, summary, cached)

	_, err = svc.RecordDebt(ctx, domain.DebtRequest{CustomerID: aliMedical, Amount: amt("50")})
	require.NoError(t, err)
	assert.Equal(t, 4, summaries.invalidated)

	fresh, err := svc.GetMonthlySummary(ctx, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.EntryCount)

	_, err = svc.GetMonthlySummary(ctx, "March 2025")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestListLedgerEntriesFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	_, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("300"), Method: domain.MethodJazzCash})
	require.NoError(t, err)
	_, err = svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{Type: domain.EntryExpense, Method: domain.MethodCash, Debit: amt("90"), Description: "tea"})
	require.NoError(t, err)

	byType, err := svc.ListLedgerEntries(ctx, domain.LedgerFilter{Type: domain.EntryExpense})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "tea", byType[0].Description)

	byCustomer, err := svc.ListLedgerEntries(ctx, domain.LedgerFilter{CustomerID: aliMedical, Month: "2025-03"})
	require.NoError(t, err)
	assert.Len(t, byCustomer, 1)

	_, err = svc.ListLedgerEntries(ctx, domain.LedgerFilter{Type: "gift"})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.ListLedgerEntries(ctx, domain.LedgerFilter{Month: "2025-13"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestProductStockMovements(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{SKU: "flg-400", Name: "Flagyl 400mg", Price: amt("120"), Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, "FLG-400", product.SKU)

	restocked, err := svc.RestockProduct(ctx, product.ID, domain.StockRequest{Qty: 10})
	require.NoError(t, err)
	assert.Equal(t, 15, restocked.Quantity)

	_, err = svc.DecrementStock(ctx, product.ID, domain.StockRequest{Qty: 16})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	left, err := svc.DecrementStock(ctx, product.ID, domain.StockRequest{Qty: 15})
	require.NoError(t, err)
	assert.Zero(t, left.Quantity)

	_, err = svc.RestockProduct(ctx, "prd-missing", domain.StockRequest{Qty: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.RestockProduct(ctx, product.ID, domain.StockRequest{Qty: 0})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSettlementOnSQLite(t *testing.T) {
	ctx := staffContext()
	repo, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	svc := New(repo, nil, nil, Options{Now: func() time.Time { return testClock }})
	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Al-Shifa Pharmacy", InitialAdvance: amt("800")})
	require.NoError(t, err)
	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Brufen 400mg", Price: amt("55.50"), Quantity: 40})
	require.NoError(t, err)

	result, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer:       domain.OrderCustomerRef{ID: customer.ID},
		Items:          []domain.OrderItemRequest{{ProductID: product.ID, Qty: 20}},
		Payment:        cashPayment("200"),
		OrderDiscount:  &domain.OrderDiscount{Type: domain.DiscountPercentage, Value: amt("10").Decimal()},
		IdempotencyKey: "sqlite-order-1",
	})
	require.NoError(t, err)
	assert.Equal(t, amt("999"), result.Order.Totals.GrandTotal)
	assert.Equal(t, amt("800"), result.Order.Totals.AdvanceUsed)
	assert.Equal(t, amt("199"), result.Order.Totals.AmountReceived)
	assert.Equal(t, amt("1"), result.Order.Totals.Change)
	assert.Equal(t, domain.OrderPaid, result.Order.Status)
	assert.Zero(t, result.CustomerBalance)

	dup, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer:       domain.OrderCustomerRef{ID: customer.ID},
		Items:          []domain.OrderItemRequest{{ProductID: product.ID, Qty: 20}},
		IdempotencyKey: "sqlite-order-1",
	})
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)

	stock, err := svc.FindProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, stock.Quantity)

	requireConsistent(t, svc, customer.ID)
}

func TestBackdatedManualEntryIsRejected(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := staffContext()

	_, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("400"), Method: domain.MethodCash})
	require.NoError(t, err)

	threeDaysAgo := testClock.AddDate(0, 0, -3)
	_, err = svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{
		Date: &threeDaysAgo, Type: domain.EntryExpense, Method: domain.MethodCash, Debit: amt("75"),
	})
	var fieldErr *domain.ValidationError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "date", fieldErr.Field)

	_, err = svc.AppendLedgerEntry(ctx, domain.ManualEntryRequest{Type: domain.EntryExpense, Method: domain.MethodCash, Debit: amt("75")})
	require.NoError(t, err)

	entries, err := repo.ListLedgerEntriesInSequence(context.Background())
	require.NoError(t, err)
	var net money.Amount
	for _, e := range entries {
		net += e.Credit - e.Debit
	}
	report, err := svc.VerifyLedgerChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, net, report.Balance)
	assert.Equal(t, amt("325"), report.Balance)

	summary, err := svc.GetMonthlySummary(ctx, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, report.Balance, summary.ClosingBalance)
}

func TestAdvanceThenLargerOnAccountOrderLeavesDebt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	_, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: shifaClinic, Amount: amt("500"), Method: domain.MethodCash})
	require.NoError(t, err)

	price := amt("1200")
	result, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Customer: domain.OrderCustomerRef{ID: shifaClinic},
		Items:    []domain.OrderItemRequest{{ProductID: panadol, Qty: 1, Price: &price}},
		Payment:  &domain.OrderPaymentInput{Method: domain.MethodOnAccount},
	})
	require.NoError(t, err)
	assert.Equal(t, amt("1200"), result.Order.Totals.GrandTotal)
	assert.Equal(t, amt("500"), result.Order.Totals.AdvanceUsed)
	assert.Equal(t, amt("700"), result.Order.Totals.Balance)
	assert.Equal(t, domain.OrderPartial, result.Order.Status)
	assert.Equal(t, amt("-700"), result.CustomerBalance)

	requireBalance(t, svc, shifaClinic, "-700")
	requireConsistent(t, svc, shifaClinic)
}

func TestDebtThenEqualAdvanceNetsToZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := staffContext()

	debt, err := svc.RecordDebt(ctx, domain.DebtRequest{CustomerID: aliMedical, Amount: amt("300")})
	require.NoError(t, err)
	assert.Equal(t, amt("-300"), debt.Balance)
	advance, err := svc.RecordAdvance(ctx, domain.AdvanceRequest{CustomerID: aliMedical, Amount: amt("300"), Method: domain.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), advance.Balance)

	result, err := svc.RecalculateFromLedger(ctx, aliMedical)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), result.Recalculated)
	assert.Equal(t, money.Amount(0), result.Delta)
	assert.Equal(t, 2, result.Entries)
	requireBalance(t, svc, aliMedical, "0")
	requireConsistent(t, svc, aliMedical)
}
