package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/balance"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/settlement"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/xid"
)

// CreateOrder settles a new order: totals, advance allocation, stock, the
// sale and payment entries and one net balance adjustment, all in a single
// transaction.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Customer.ID = strings.TrimSpace(req.Customer.ID)
	if err := s.check(req); err != nil {
		return domain.OrderResult{}, err
	}

	payment := domain.OrderPaymentInput{Method: domain.MethodOnAccount}
	if req.Payment != nil {
		payment = *req.Payment
	}

	if req.IdempotencyKey != "" {
		if result, found, err := s.findOrderByKey(ctx, req.IdempotencyKey); found || err != nil {
			return result, err
		}
	}

	var result domain.OrderResult
	err := s.inTx(ctx, "create_order", func(ctx context.Context, tx store.Tx) error {
		customer, err := tx.GetCustomerForUpdate(ctx, req.Customer.ID)
		if err != nil {
			return err
		}
		if customer.Role != domain.RoleCustomer {
			return domain.NewValidationError("customer.id", "%s is a %s, not a customer", customer.ID, customer.Role)
		}

		lines, demand, err := s.resolveLines(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		computed, err := settlement.Compute(settlement.Input{
			Lines:        lines,
			Discount:     req.OrderDiscount,
			Method:       payment.Method,
			Tendered:     payment.AmountReceived,
			PriorBalance: customer.Balance,
		})
		if err != nil {
			return err
		}

		at := s.timestamp()
		order := domain.Order{
			ID:             xid.New("ord"),
			Customer:       domain.OrderCustomer{ID: customer.ID, Name: customer.Name, Phone: customer.Phone},
			Items:          computed.Items,
			Payment:        domain.OrderPayment{Method: payment.Method, AmountTendered: payment.AmountReceived},
			Discount:       req.OrderDiscount,
			Totals:         computed.Totals,
			Status:         computed.Status,
			IdempotencyKey: req.IdempotencyKey,
			Notes:          strings.TrimSpace(req.Notes),
			CreatedBy:      actorName(ctx),
			CreatedAt:      at,
			UpdatedAt:      at,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		for _, productID := range sortedKeys(demand) {
			if _, err := tx.DecrementStock(ctx, productID, demand[productID], at); err != nil {
				return err
			}
		}

		ref := domain.LedgerRef{OrderID: order.ID, CustomerID: customer.ID}
		sale, err := s.book.Append(ctx, tx, domain.LedgerEntryInput{
			Type:        domain.EntrySale,
			Method:      payment.Method,
			Debit:       order.Totals.GrandTotal,
			Ref:         ref,
			Description: fmt.Sprintf("Order %s for %s", order.ID, customer.Name),
			CreatedBy:   order.CreatedBy,
		})
		if err != nil {
			return err
		}
		entries := []domain.LedgerEntry{sale}

		if order.Totals.AmountReceived.IsPositive() && payment.Method != domain.MethodOnAccount {
			paid, err := s.book.Append(ctx, tx, domain.LedgerEntryInput{
				Type:        domain.EntryPayment,
				Method:      payment.Method,
				Credit:      order.Totals.AmountReceived,
				Ref:         ref,
				Description: fmt.Sprintf("Payment for order %s", order.ID),
				CreatedBy:   order.CreatedBy,
			})
			if err != nil {
				return err
			}
			entries = append(entries, paid)
		}

		newBalance, err := balance.Adjust(ctx, tx, balance.Adjustment{
			CustomerID: customer.ID,
			Delta:      computed.BalanceDelta,
			Reason:     "order " + order.ID,
			Actor:      order.CreatedBy,
			At:         at,
		})
		if err != nil {
			return err
		}

		if err := s.audit(ctx, tx, "order.create", "order", order.ID, fmt.Sprintf(
			"customer=%s,grand_total=%s,advance_used=%s,amount_received=%s,status=%s",
			customer.ID, order.Totals.GrandTotal, order.Totals.AdvanceUsed, order.Totals.AmountReceived, order.Status,
		)); err != nil {
			return err
		}

		result = domain.OrderResult{Order: order, CustomerBalance: newBalance, Entries: entries}
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, store.ErrDuplicate) {
			if dup, found, lookupErr := s.findOrderByKey(ctx, req.IdempotencyKey); found || lookupErr != nil {
				return dup, lookupErr
			}
		}
		return domain.OrderResult{}, err
	}

	s.afterLedgerWrite(ctx, result.Entries...)
	spanAttrs(ctx, attribute.String("order.id", result.Order.ID))
	s.logger.Info("order created",
		zap.String("order_id", result.Order.ID),
		zap.String("customer_id", result.Order.Customer.ID),
		zap.String("grand_total", result.Order.Totals.GrandTotal.String()),
		zap.String("status", string(result.Order.Status)),
	)
	return result, nil
}

// resolveLines loads every product once, fills in catalogue prices and
// checks the combined demand per product against stock before any write.
func (s *Service) resolveLines(ctx context.Context, tx store.Tx, items []domain.OrderItemRequest) ([]settlement.Line, map[string]int, error) {
	products := make(map[string]*domain.Product, len(items))
	demand := make(map[string]int, len(items))
	lines := make([]settlement.Line, 0, len(items))

	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		product, ok := products[productID]
		if !ok {
			var err error
			product, err = tx.GetProduct(ctx, productID)
			if err != nil {
				return nil, nil, err
			}
			products[productID] = product
		}

		price := product.Price
		if item.Price != nil {
			price = *item.Price
		}
		demand[productID] += item.Qty
		lines = append(lines, settlement.Line{
			ProductID:     product.ID,
			Name:          product.Name,
			Qty:           item.Qty,
			Price:         price,
			DiscountValue: item.DiscountValue,
		})
	}

	for _, productID := range sortedKeys(demand) {
		product := products[productID]
		if product.Quantity < demand[productID] {
			return nil, nil, &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   demand[productID],
			}
		}
	}
	return lines, demand, nil
}

func (s *Service) findOrderByKey(ctx context.Context, key string) (domain.OrderResult, bool, error) {
	existing, err := s.repo.FindOrderByIdempotency(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OrderResult{}, false, nil
	}
	if err != nil {
		return domain.OrderResult{}, false, classify("find order", err)
	}
	result, err := s.orderResult(ctx, existing)
	result.Duplicate = true
	return result, true, err
}

func (s *Service) orderResult(ctx context.Context, order *domain.Order) (domain.OrderResult, error) {
	customer, err := s.repo.GetCustomer(ctx, order.Customer.ID)
	if err != nil {
		return domain.OrderResult{}, classify("get customer", err)
	}
	entries, err := s.repo.ListLedgerEntries(ctx, domain.LedgerFilter{CustomerID: order.Customer.ID})
	if err != nil {
		return domain.OrderResult{}, classify("list order entries", err)
	}
	related := make([]domain.LedgerEntry, 0, 2)
	for _, e := range entries {
		if e.Ref.OrderID == order.ID {
			related = append(related, e)
		}
	}
	return domain.OrderResult{Order: *order, CustomerBalance: customer.Balance, Entries: related}, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.OrderResult, error) {
	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.OrderResult{}, classify("get order", err)
	}
	return s.orderResult(ctx, order)
}

// RecordOrderPayment settles part or all of an open order's balance. The
// order totals, status, payment entry and customer balance move together.
func (s *Service) RecordOrderPayment(ctx context.Context, orderID string, req domain.OrderPaymentRequest) (domain.OrderResult, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := s.check(req); err != nil {
		return domain.OrderResult{}, err
	}

	var (
		result    domain.OrderResult
		duplicate bool
	)
	err := s.inTx(ctx, "order_payment", func(ctx context.Context, tx store.Tx) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.FindLedgerEntryByIdempotency(ctx, req.IdempotencyKey)
			if err == nil {
				if existing.Ref.OrderID != orderID {
					return domain.Conflict("idempotency key %s belongs to another entry", req.IdempotencyKey)
				}
				duplicate = true
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderCancelled || order.Status == domain.OrderCompleted {
			return domain.Conflict("order %s is %s", order.ID, order.Status)
		}
		if _, err := tx.GetCustomerForUpdate(ctx, order.Customer.ID); err != nil {
			return err
		}

		applied, err := settlement.ApplyPayment(order.Totals, req.Amount)
		if err != nil {
			return err
		}

		at := s.timestamp()
		entry, err := s.book.Append(ctx, tx, domain.LedgerEntryInput{
			Type:           domain.EntryPayment,
			Method:         req.Method,
			Credit:         applied.Applied,
			Ref:            domain.LedgerRef{OrderID: order.ID, CustomerID: order.Customer.ID},
			Description:    fmt.Sprintf("Payment for order %s", order.ID),
			IdempotencyKey: req.IdempotencyKey,
			CreatedBy:      actorName(ctx),
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateOrderSettlement(ctx, order.ID, applied.Totals, applied.Status, at); err != nil {
			return err
		}
		newBalance, err := balance.Adjust(ctx, tx, balance.Adjustment{
			CustomerID: order.Customer.ID,
			Delta:      applied.Applied,
			Reason:     "payment " + order.ID,
			Actor:      actorName(ctx),
			At:         at,
		})
		if err != nil {
			return err
		}

		order.Totals = applied.Totals
		order.Status = applied.Status
		order.UpdatedAt = at
		result = domain.OrderResult{Order: *order, CustomerBalance: newBalance, Entries: []domain.LedgerEntry{entry}}
		return s.audit(ctx, tx, "order.payment", "order", order.ID, fmt.Sprintf(
			"applied=%s,change=%s,balance_due=%s,status=%s", applied.Applied, applied.Change, applied.Totals.Balance, applied.Status,
		))
	})
	if err != nil {
		return domain.OrderResult{}, err
	}
	if duplicate {
		dup, err := s.GetOrder(ctx, orderID)
		dup.Duplicate = true
		return dup, err
	}

	s.afterLedgerWrite(ctx, result.Entries...)
	return result, nil
}

// CancelOrder reverses an order: an adjustment credit for the sale, a refund
// debit for anything received, restocked items and one net balance delta.
func (s *Service) CancelOrder(ctx context.Context, orderID string, req domain.CancelOrderRequest) (domain.OrderResult, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.check(req); err != nil {
		return domain.OrderResult{}, err
	}

	var result domain.OrderResult
	err := s.inTx(ctx, "cancel_order", func(ctx context.Context, tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderCancelled || order.Status == domain.OrderCompleted {
			return domain.Conflict("order %s is already %s", order.ID, order.Status)
		}
		if _, err := tx.GetCustomerForUpdate(ctx, order.Customer.ID); err != nil {
			return err
		}

		at := s.timestamp()
		actor := actorName(ctx)
		ref := domain.LedgerRef{OrderID: order.ID, CustomerID: order.Customer.ID}

		restock := make(map[string]int, len(order.Items))
		for _, item := range order.Items {
			restock[item.ProductID] += item.Qty
		}
		for _, productID := range sortedKeys(restock) {
			if _, err := tx.IncreaseStock(ctx, productID, restock[productID], at); err != nil {
				return err
			}
		}

		entries := make([]domain.LedgerEntry, 0, 2)
		if order.Totals.GrandTotal.IsPositive() {
			reversal, err := s.book.Append(ctx, tx, domain.LedgerEntryInput{
				Type:        domain.EntryAdjustment,
				Method:      order.Payment.Method,
				Credit:      order.Totals.GrandTotal,
				Ref:         ref,
				Description: fmt.Sprintf("Cancel order %s: %s", order.ID, req.Reason),
				CreatedBy:   actor,
			})
			if err != nil {
				return err
			}
			entries = append(entries, reversal)
		}
		if order.Totals.AmountReceived.IsPositive() {
			refund, err := s.book.Append(ctx, tx, domain.LedgerEntryInput{
				Type:        domain.EntryRefund,
				Method:      order.Payment.Method,
				Debit:       order.Totals.AmountReceived,
				Ref:         ref,
				Description: fmt.Sprintf("Refund for cancelled order %s", order.ID),
				CreatedBy:   actor,
			})
			if err != nil {
				return err
			}
			entries = append(entries, refund)
		}

		newBalance, err := balance.Adjust(ctx, tx, balance.Adjustment{
			CustomerID: order.Customer.ID,
			Delta:      order.Totals.GrandTotal - order.Totals.AmountReceived,
			Reason:     "cancel " + order.ID,
			Actor:      actor,
			At:         at,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateOrderSettlement(ctx, order.ID, order.Totals, domain.OrderCancelled, at); err != nil {
			return err
		}

		order.Status = domain.OrderCancelled
		order.UpdatedAt = at
		result = domain.OrderResult{Order: *order, CustomerBalance: newBalance, Entries: entries}
		return s.audit(ctx, tx, "order.cancel", "order", order.ID, "reason="+req.Reason)
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	s.afterLedgerWrite(ctx, result.Entries...)
	s.logger.Info("order cancelled", zap.String("order_id", result.Order.ID), zap.String("reason", req.Reason))
	return result, nil
}

// CompleteOrder closes a fully paid order.
func (s *Service) CompleteOrder(ctx context.Context, orderID string) (domain.OrderResult, error) {
	var order *domain.Order
	err := s.inTx(ctx, "complete_order", func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderPaid {
			return domain.Conflict("only paid orders can be completed, order %s is %s", order.ID, order.Status)
		}
		at := s.timestamp()
		if err := tx.UpdateOrderSettlement(ctx, order.ID, order.Totals, domain.OrderCompleted, at); err != nil {
			return err
		}
		order.Status = domain.OrderCompleted
		order.UpdatedAt = at
		return s.audit(ctx, tx, "order.complete", "order", order.ID, "")
	})
	if err != nil {
		return domain.OrderResult{}, err
	}
	return s.orderResult(ctx, order)
}

// sortedKeys gives a stable lock order for per-product writes.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
