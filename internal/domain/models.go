package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
)

type EntryType string

const (
	EntrySale         EntryType = "sale"
	EntryPurchase     EntryType = "purchase"
	EntryPayment      EntryType = "payment"
	EntryExpense      EntryType = "expense"
	EntryCompanyRemit EntryType = "company_remit"
	EntryCommission   EntryType = "commission"
	EntryAdvance      EntryType = "advance"
	EntryRefund       EntryType = "refund"
	EntryAdjustment   EntryType = "adjustment"
	EntryOther        EntryType = "other"
)

var EntryTypes = []EntryType{
	EntrySale, EntryPurchase, EntryPayment, EntryExpense, EntryCompanyRemit,
	EntryCommission, EntryAdvance, EntryRefund, EntryAdjustment, EntryOther,
}

func (t EntryType) Valid() bool {
	for _, known := range EntryTypes {
		if t == known {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	MethodCash      PaymentMethod = "cash"
	MethodJazzCash  PaymentMethod = "jazzcash"
	MethodBank      PaymentMethod = "bank"
	MethodCard      PaymentMethod = "card"
	MethodAdvance   PaymentMethod = "advance"
	MethodOnAccount PaymentMethod = "on_account"
	MethodOther     PaymentMethod = "other"
)

var PaymentMethods = []PaymentMethod{
	MethodCash, MethodJazzCash, MethodBank, MethodCard, MethodAdvance, MethodOnAccount, MethodOther,
}

func (m PaymentMethod) Valid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderPartial   OrderStatus = "partial"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
	OrderCompleted OrderStatus = "completed"
)

const (
	RoleCustomer = "customer"
	RoleSupplier = "supplier"
)

const (
	DiscountPercentage = "percentage"
	DiscountFlat       = "flat"
)

// LedgerRef links an entry to whatever caused it.
type LedgerRef struct {
	OrderID    string `json:"order_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	ExpenseID  string `json:"expense_id,omitempty"`
}

type LedgerEntry struct {
	ID             string        `json:"id"`
	Seq            int64         `json:"seq"`
	Date           time.Time     `json:"date"`
	Type           EntryType     `json:"type"`
	Method         PaymentMethod `json:"method"`
	Credit         money.Amount  `json:"credit"`
	Debit          money.Amount  `json:"debit"`
	RunningBalance money.Amount  `json:"running_balance"`
	Ref            LedgerRef     `json:"ref"`
	Description    string        `json:"description,omitempty"`
	Month          string        `json:"month"`
	Year           int           `json:"year"`
	MonthNumber    int           `json:"month_number"`
	Day            int           `json:"day"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CreatedBy      string        `json:"created_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// LedgerEntryInput is what callers hand to the ledger book; everything else is
// derived at write time.
type LedgerEntryInput struct {
	ID             string
	Date           time.Time
	Type           EntryType
	Method         PaymentMethod
	Credit         money.Amount
	Debit          money.Amount
	Ref            LedgerRef
	Description    string
	IdempotencyKey string
	CreatedBy      string
}

type LedgerFilter struct {
	Month      string        `json:"month,omitempty"`
	Type       EntryType     `json:"type,omitempty"`
	Method     PaymentMethod `json:"method,omitempty"`
	Query      string        `json:"query,omitempty"`
	CustomerID string        `json:"customer_id,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

type SummaryBucket struct {
	Key     string       `json:"key"`
	Entries int          `json:"entries"`
	Credit  money.Amount `json:"credit"`
	Debit   money.Amount `json:"debit"`
}

type MonthlySummary struct {
	Month          string          `json:"month"`
	OpeningBalance money.Amount    `json:"opening_balance"`
	ClosingBalance money.Amount    `json:"closing_balance"`
	TotalCredit    money.Amount    `json:"total_credit"`
	TotalDebit     money.Amount    `json:"total_debit"`
	Net            money.Amount    `json:"net"`
	EntryCount     int             `json:"entry_count"`
	ByType         []SummaryBucket `json:"by_type"`
	ByMethod       []SummaryBucket `json:"by_method"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

type ManualEntryRequest struct {
	Date           *time.Time    `json:"date,omitempty"`
	Type           EntryType     `json:"type" validate:"required"`
	Method         PaymentMethod `json:"method" validate:"required"`
	Credit         money.Amount  `json:"credit" validate:"min=0"`
	Debit          money.Amount  `json:"debit" validate:"min=0"`
	Ref            LedgerRef     `json:"ref"`
	Description    string        `json:"description" validate:"max=500"`
	IdempotencyKey string        `json:"idempotency_key,omitempty" validate:"max=120"`
	ManagerPIN     string        `json:"manager_pin,omitempty"`
}

type Customer struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Phone     string       `json:"phone,omitempty"`
	Role      string       `json:"role"`
	Balance   money.Amount `json:"balance"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name           string        `json:"name" validate:"required,max=160"`
	Phone          string        `json:"phone" validate:"max=32"`
	Role           string        `json:"role" validate:"omitempty,oneof=customer supplier"`
	InitialAdvance money.Amount  `json:"initial_advance" validate:"min=0"`
	InitialDebt    money.Amount  `json:"initial_debt" validate:"min=0"`
	AdvanceMethod  PaymentMethod `json:"advance_method,omitempty" validate:"omitempty,oneof=cash jazzcash bank card other"`
}

type AdvanceRequest struct {
	CustomerID     string        `json:"customer_id" validate:"required"`
	Amount         money.Amount  `json:"amount" validate:"gt=0"`
	Method         PaymentMethod `json:"method" validate:"required,oneof=cash jazzcash bank card other"`
	Reference      string        `json:"reference" validate:"max=200"`
	Date           *time.Time    `json:"date,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty" validate:"max=120"`
}

type DebtRequest struct {
	CustomerID     string       `json:"customer_id" validate:"required"`
	Amount         money.Amount `json:"amount" validate:"gt=0"`
	Reference      string       `json:"reference" validate:"max=200"`
	Date           *time.Time   `json:"date,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty" validate:"max=120"`
}

type BalanceResult struct {
	CustomerID string       `json:"customer_id"`
	Balance    money.Amount `json:"balance"`
	Entry      *LedgerEntry `json:"entry,omitempty"`
	Duplicate  bool         `json:"duplicate"`
}

type Product struct {
	ID        string       `json:"id"`
	SKU       string       `json:"sku,omitempty"`
	Name      string       `json:"name"`
	Price     money.Amount `json:"price"`
	Quantity  int          `json:"quantity"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type ProductCreateRequest struct {
	SKU      string       `json:"sku" validate:"max=64"`
	Name     string       `json:"name" validate:"required,max=160"`
	Price    money.Amount `json:"price" validate:"min=0"`
	Quantity int          `json:"quantity" validate:"min=0"`
}

type StockRequest struct {
	Qty int `json:"qty" validate:"gt=0"`
}

type OrderItem struct {
	ProductID     string       `json:"product_id"`
	Name          string       `json:"name"`
	Qty           int          `json:"qty"`
	Price         money.Amount `json:"price"`
	DiscountValue money.Amount `json:"discount_value"`
	Total         money.Amount `json:"total"`
}

type OrderPayment struct {
	Method         PaymentMethod `json:"method"`
	AmountTendered money.Amount  `json:"amount_tendered"`
}

// OrderDiscount is either a percentage of the subtotal or a flat amount.
type OrderDiscount struct {
	Type  string          `json:"type" validate:"required,oneof=percentage flat"`
	Value decimal.Decimal `json:"value"`
}

type OrderTotals struct {
	SubTotal       money.Amount `json:"sub_total"`
	DiscountTotal  money.Amount `json:"discount_total"`
	TaxTotal       money.Amount `json:"tax_total"`
	GrandTotal     money.Amount `json:"grand_total"`
	AmountReceived money.Amount `json:"amount_received"`
	AdvanceUsed    money.Amount `json:"advance_used"`
	Balance        money.Amount `json:"balance"`
	Change         money.Amount `json:"change"`
}

// OrderCustomer is the snapshot of the customer stored on the order.
type OrderCustomer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type Order struct {
	ID             string         `json:"id"`
	Customer       OrderCustomer  `json:"customer"`
	Items          []OrderItem    `json:"items"`
	Payment        OrderPayment   `json:"payment"`
	Discount       *OrderDiscount `json:"order_discount,omitempty"`
	Totals         OrderTotals    `json:"totals"`
	Status         OrderStatus    `json:"status"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type OrderCustomerRef struct {
	ID string `json:"id" validate:"required"`
}

type OrderItemRequest struct {
	ProductID     string        `json:"product_id" validate:"required"`
	Qty           int           `json:"qty" validate:"gt=0"`
	Price         *money.Amount `json:"price,omitempty" validate:"omitempty,min=0"`
	DiscountValue money.Amount  `json:"discount_value" validate:"min=0"`
}

type OrderPaymentInput struct {
	Method         PaymentMethod `json:"method" validate:"required,oneof=cash jazzcash bank card on_account other"`
	AmountReceived money.Amount  `json:"amount_received" validate:"min=0"`
}

type OrderCreateRequest struct {
	Customer       OrderCustomerRef   `json:"customer"`
	Items          []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	Payment        *OrderPaymentInput `json:"payment,omitempty"`
	OrderDiscount  *OrderDiscount     `json:"order_discount,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty" validate:"max=120"`
	Notes          string             `json:"notes,omitempty" validate:"max=500"`
}

type OrderResult struct {
	Order           Order         `json:"order"`
	CustomerBalance money.Amount  `json:"customer_balance"`
	Entries         []LedgerEntry `json:"entries"`
	Duplicate       bool          `json:"duplicate"`
}

type OrderPaymentRequest struct {
	Amount         money.Amount  `json:"amount" validate:"gt=0"`
	Method         PaymentMethod `json:"method" validate:"required,oneof=cash jazzcash bank card other"`
	IdempotencyKey string        `json:"idempotency_key,omitempty" validate:"max=120"`
}

type CancelOrderRequest struct {
	Reason     string `json:"reason" validate:"required,max=300"`
	ManagerPIN string `json:"manager_pin"`
}

type ReconcileResult struct {
	CustomerID   string       `json:"customer_id"`
	Previous     money.Amount `json:"previous"`
	Recalculated money.Amount `json:"recalculated"`
	Delta        money.Amount `json:"delta"`
	Entries      int          `json:"entries"`
	DriftAlert   bool         `json:"drift_alert"`
}

type ChainViolation struct {
	EntryID  string       `json:"entry_id"`
	Seq      int64        `json:"seq"`
	Expected money.Amount `json:"expected"`
	Actual   money.Amount `json:"actual"`
}

type ChainReport struct {
	Entries    int              `json:"entries"`
	Head       string           `json:"head,omitempty"`
	Balance    money.Amount     `json:"balance"`
	Violations []ChainViolation `json:"violations"`
}

func (r ChainReport) OK() bool {
	return len(r.Violations) == 0
}

type AuditLog struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Actor      string    `json:"actor"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
