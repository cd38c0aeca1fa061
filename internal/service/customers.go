package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/balance"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/xid"
)

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	c, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, classify("get customer", err)
	}
	return *c, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, classify("list customers", err)
	}
	return customers, nil
}

// CreateCustomer onboards a customer at zero and records any opening
// advance and debt as ledger entries. The register moves once, by the net
// of the two.
func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.check(req); err != nil {
		return domain.Customer{}, err
	}
	if req.Role == "" {
		req.Role = domain.RoleCustomer
	}
	if req.AdvanceMethod == "" {
		req.AdvanceMethod = domain.MethodCash
	}

	at := s.timestamp()
	customer := domain.Customer{
		ID:        xid.New("cus"),
		Name:      req.Name,
		Phone:     req.Phone,
		Role:      req.Role,
		CreatedAt: at,
		UpdatedAt: at,
	}

	var entries []domain.LedgerEntry
	err := s.inTx(ctx, "create_customer", func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateCustomer(ctx, customer); err != nil {
			return err
		}
		ref := domain.LedgerRef{CustomerID: customer.ID}
		actor := actorName(ctx)

		if req.InitialAdvance.IsPositive() {
			e, err := s.book.Append(ctx, tx, domain.LedgerEntryInput{
				Type: domain.EntryAdvance, Method: req.AdvanceMethod, Credit: req.InitialAdvance,
				Ref: ref, Description: "Opening advance for " + customer.Name, CreatedBy: actor,
			})
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		if req.InitialDebt.IsPositive() {
			e, err := s.book.Append(ctx, tx, domain.LedgerEntryInput{
				Type: domain.EntrySale, Method: domain.MethodOnAccount, Debit: req.InitialDebt,
				Ref: ref, Description: "Opening balance owed by " + customer.Name, CreatedBy: actor,
			})
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}

		if net := req.InitialAdvance - req.InitialDebt; net != 0 {
			newBalance, err := balance.Adjust(ctx, tx, balance.Adjustment{
				CustomerID: customer.ID, Delta: net, Reason: "onboarding", Actor: actor, At: at,
			})
			if err != nil {
				return err
			}
			customer.Balance = newBalance
		}
		return s.audit(ctx, tx, "customer.create", "customer", customer.ID, fmt.Sprintf(
			"name=%s,role=%s,initial_advance=%s,initial_debt=%s", customer.Name, customer.Role, req.InitialAdvance, req.InitialDebt,
		))
	})
	if err != nil {
		return domain.Customer{}, err
	}

	if len(entries) > 0 {
		s.afterLedgerWrite(ctx, entries...)
	}
	return customer, nil
}

// RecordAdvance credits money a customer paid ahead of future orders.
func (s *Service) RecordAdvance(ctx context.Context, req domain.AdvanceRequest) (domain.BalanceResult, error) {
	if err := s.check(req); err != nil {
		return domain.BalanceResult{}, err
	}
	return s.recordCustomerEntry(ctx, "record_advance", req.IdempotencyKey, req.CustomerID, req.Amount, domain.LedgerEntryInput{
		Date:        dateOrZero(req.Date),
		Type:        domain.EntryAdvance,
		Method:      req.Method,
		Credit:      req.Amount,
		Description: describeWith("Advance received", req.Reference),
	})
}

// RecordDebt debits an amount the customer already owes, for example when
// an existing account is brought into the system.
func (s *Service) RecordDebt(ctx context.Context, req domain.DebtRequest) (domain.BalanceResult, error) {
	if err := s.check(req); err != nil {
		return domain.BalanceResult{}, err
	}
	return s.recordCustomerEntry(ctx, "record_debt", req.IdempotencyKey, req.CustomerID, -req.Amount, domain.LedgerEntryInput{
		Date:        dateOrZero(req.Date),
		Type:        domain.EntrySale,
		Method:      domain.MethodOnAccount,
		Debit:       req.Amount,
		Description: describeWith("Debt recorded", req.Reference),
	})
}

func (s *Service) recordCustomerEntry(ctx context.Context, op, key, customerID string, delta money.Amount, in domain.LedgerEntryInput) (domain.BalanceResult, error) {
	key = strings.TrimSpace(key)
	customerID = strings.TrimSpace(customerID)
	in.Ref = domain.LedgerRef{CustomerID: customerID}
	in.IdempotencyKey = key
	in.CreatedBy = actorName(ctx)

	for attempt := 0; ; attempt++ {
		var result domain.BalanceResult
		err := s.inTx(ctx, op, func(ctx context.Context, tx store.Tx) error {
			customer, err := tx.GetCustomerForUpdate(ctx, customerID)
			if err != nil {
				return err
			}
			if key != "" {
				existing, err := tx.FindLedgerEntryByIdempotency(ctx, key)
				if err == nil {
					if existing.Ref.CustomerID != customerID || existing.Type != in.Type {
						return domain.Conflict("idempotency key %s belongs to another entry", key)
					}
					result = domain.BalanceResult{CustomerID: customerID, Balance: customer.Balance, Entry: existing, Duplicate: true}
					return nil
				}
				if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
			}

			entry, err := s.book.Append(ctx, tx, in)
			if err != nil {
				return err
			}
			newBalance, err := balance.Adjust(ctx, tx, balance.Adjustment{
				CustomerID: customerID,
				Delta:      delta,
				Reason:     string(in.Type) + " " + entry.ID,
				Actor:      in.CreatedBy,
				At:         s.timestamp(),
			})
			if err != nil {
				return err
			}
			result = domain.BalanceResult{CustomerID: customerID, Balance: newBalance, Entry: &entry}
			return nil
		})
		// A concurrent request with the same key committed first; the
		// retry returns its entry.
		if err != nil && key != "" && attempt == 0 && errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return domain.BalanceResult{}, err
		}

		if !result.Duplicate {
			s.afterLedgerWrite(ctx, *result.Entry)
			s.logger.Info("customer balance recorded",
				zap.String("operation", op),
				zap.String("customer_id", customerID),
				zap.String("entry_id", result.Entry.ID),
				zap.String("balance", result.Balance.String()),
			)
		}
		return result, nil
	}
}

func dateOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func describeWith(label, reference string) string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return label
	}
	return label + ": " + reference
}
