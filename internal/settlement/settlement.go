// Package settlement computes order totals, advance allocation and the net
// balance delta. It performs no I/O.
package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
)

type Line struct {
	ProductID     string
	Name          string
	Qty           int
	Price         money.Amount
	DiscountValue money.Amount
}

type Input struct {
	Lines    []Line
	Discount *domain.OrderDiscount
	Method   domain.PaymentMethod
	// Tendered is what the customer handed over; anything above the amount
	// due after advance allocation becomes change.
	Tendered     money.Amount
	PriorBalance money.Amount
}

type Result struct {
	Items  []domain.OrderItem
	Totals domain.OrderTotals
	Status domain.OrderStatus
	// BalanceDelta is the single adjustment owed to the customer register.
	BalanceDelta money.Amount
}

var hundred = decimal.NewFromInt(100)

func Compute(in Input) (Result, error) {
	if len(in.Lines) == 0 {
		return Result{}, domain.NewValidationError("items", "at least one item is required")
	}
	if in.Tendered.IsNegative() {
		return Result{}, domain.NewValidationError("payment.amount_received", "must not be negative")
	}

	var (
		totals        domain.OrderTotals
		itemDiscounts money.Amount
	)
	items := make([]domain.OrderItem, 0, len(in.Lines))
	for i, line := range in.Lines {
		field := fmt.Sprintf("items[%d]", i)
		if line.Qty <= 0 {
			return Result{}, domain.NewValidationError(field+".qty", "must be greater than zero")
		}
		if line.Price.IsNegative() {
			return Result{}, domain.NewValidationError(field+".price", "must not be negative")
		}
		gross := line.Price.MulQty(line.Qty)
		if line.DiscountValue.IsNegative() || line.DiscountValue > gross {
			return Result{}, domain.NewValidationError(field+".discount_value", "must be between 0 and %s", gross)
		}
		totals.SubTotal += gross
		itemDiscounts += line.DiscountValue
		items = append(items, domain.OrderItem{
			ProductID:     line.ProductID,
			Name:          line.Name,
			Qty:           line.Qty,
			Price:         line.Price,
			DiscountValue: line.DiscountValue,
			Total:         gross - line.DiscountValue,
		})
	}

	orderDiscount, err := orderDiscountAmount(in.Discount, totals.SubTotal)
	if err != nil {
		return Result{}, err
	}
	totals.DiscountTotal = itemDiscounts + orderDiscount
	if totals.DiscountTotal > totals.SubTotal {
		return Result{}, domain.NewValidationError("order_discount", "discounts %s exceed subtotal %s", totals.DiscountTotal, totals.SubTotal)
	}
	totals.GrandTotal = totals.SubTotal - totals.DiscountTotal + totals.TaxTotal

	if in.PriorBalance.IsPositive() {
		totals.AdvanceUsed = money.Min(in.PriorBalance, totals.GrandTotal)
	}
	due := totals.GrandTotal - totals.AdvanceUsed
	if in.Method != domain.MethodOnAccount {
		totals.AmountReceived = money.Min(in.Tendered, due)
		totals.Change = in.Tendered - totals.AmountReceived
	}
	totals.Balance = money.Max(due-totals.AmountReceived, 0)

	return Result{
		Items:        items,
		Totals:       totals,
		Status:       DeriveStatus(totals),
		BalanceDelta: totals.AmountReceived - totals.GrandTotal,
	}, nil
}

func orderDiscountAmount(d *domain.OrderDiscount, subTotal money.Amount) (money.Amount, error) {
	if d == nil {
		return 0, nil
	}
	if d.Value.IsNegative() {
		return 0, domain.NewValidationError("order_discount.value", "must not be negative")
	}
	switch d.Type {
	case domain.DiscountPercentage:
		if d.Value.GreaterThan(hundred) {
			return 0, domain.NewValidationError("order_discount.value", "percentage must be between 0 and 100")
		}
		return subTotal.Percent(d.Value), nil
	case domain.DiscountFlat:
		amount, err := money.FromDecimal(d.Value)
		if err != nil {
			return 0, domain.NewValidationError("order_discount.value", "%v", err)
		}
		return amount, nil
	default:
		return 0, domain.NewValidationError("order_discount.type", "must be percentage or flat")
	}
}

// DeriveStatus maps totals to an order status. Cancelled and completed are
// lifecycle transitions and never derived.
func DeriveStatus(t domain.OrderTotals) domain.OrderStatus {
	switch {
	case t.Balance <= 0:
		return domain.OrderPaid
	case t.AdvanceUsed > 0 || t.AmountReceived > 0:
		return domain.OrderPartial
	default:
		return domain.OrderCreated
	}
}

// Payment is the outcome of applying a later payment to an open order.
type Payment struct {
	Applied money.Amount
	Change  money.Amount
	Totals  domain.OrderTotals
	Status  domain.OrderStatus
}

// ApplyPayment settles up to the balance due; the remainder is change.
func ApplyPayment(t domain.OrderTotals, amount money.Amount) (Payment, error) {
	if !amount.IsPositive() {
		return Payment{}, domain.NewValidationError("amount", "must be greater than zero")
	}
	if t.Balance <= 0 {
		return Payment{}, domain.Conflict("order has no balance due")
	}

	applied := money.Min(amount, t.Balance)
	t.AmountReceived += applied
	t.Balance -= applied
	change := amount - applied
	t.Change += change

	return Payment{Applied: applied, Change: change, Totals: t, Status: DeriveStatus(t)}, nil
}
