package store

import (
	"context"
	"errors"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
)

// ErrDuplicate is returned when an idempotency key or id is already taken.
var ErrDuplicate = errors.New("duplicate key")

// Reader covers the lookups served outside a write transaction.
type Reader interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error)
	ListLedgerEntries(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error)
	// ListLedgerEntriesInSequence returns every entry in insertion order.
	ListLedgerEntriesInSequence(ctx context.Context) ([]domain.LedgerEntry, error)
	// LastLedgerEntryBefore returns the latest entry dated strictly before t, or nil.
	LastLedgerEntryBefore(ctx context.Context, t time.Time) (*domain.LedgerEntry, error)
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)
}

// Tx is one atomic unit of work. Nothing written through it is visible to
// other callers until the surrounding WithTx returns nil.
type Tx interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) error
	// GetCustomerForUpdate reads the customer and holds its balance lock
	// until the transaction ends.
	GetCustomerForUpdate(ctx context.Context, id string) (*domain.Customer, error)
	GetCustomerBalance(ctx context.Context, id string) (money.Amount, error)
	SetCustomerBalance(ctx context.Context, id string, balance money.Amount, at time.Time) error

	CreateProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// DecrementStock subtracts qty only when at least qty is on hand and
	// returns the remaining quantity.
	DecrementStock(ctx context.Context, productID string, qty int, at time.Time) (int, error)
	IncreaseStock(ctx context.Context, productID string, qty int, at time.Time) (int, error)

	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrderForUpdate(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderSettlement(ctx context.Context, id string, totals domain.OrderTotals, status domain.OrderStatus, at time.Time) error

	// LedgerHead takes the global ledger lock and returns the most recently
	// dated entry, tie-broken by sequence. It returns nil for an empty ledger.
	LedgerHead(ctx context.Context) (*domain.LedgerEntry, error)
	NextLedgerSeq(ctx context.Context) (int64, error)
	InsertLedgerEntry(ctx context.Context, entry domain.LedgerEntry) error
	FindLedgerEntryByIdempotency(ctx context.Context, key string) (*domain.LedgerEntry, error)
	CustomerLedgerEntries(ctx context.Context, customerID string) ([]domain.LedgerEntry, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Reader
	UserStore
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
