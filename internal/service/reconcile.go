package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/balance"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/cache"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/metrics"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
)

const (
	reconcileAllJob = "reconcile-all"
	// reconcileAllLease covers one batch; the lease is refreshed before the
	// next batch starts.
	reconcileAllLease = 2 * time.Minute
	reconcileBatch    = 50
)

// RecalculateFromLedger rebuilds a customer's balance from their ledger
// entries and writes any difference through the register. Running it twice
// with no new entries yields a zero delta the second time.
func (s *Service) RecalculateFromLedger(ctx context.Context, customerID string) (domain.ReconcileResult, error) {
	var result domain.ReconcileResult
	err := s.inTx(ctx, "reconcile", func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = s.measureDrift(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if result.Delta == 0 {
			return nil
		}

		if result.DriftAlert {
			if err := s.audit(ctx, tx, "balance.inconsistency", "customer", customerID, fmt.Sprintf(
				"register=%s,ledger=%s,drift=%s", result.Previous, result.Recalculated, result.Delta,
			)); err != nil {
				return err
			}
		}
		result.Recalculated, err = balance.Adjust(ctx, tx, balance.Adjustment{
			CustomerID: customerID,
			Delta:      result.Delta,
			Reason:     "reconcile",
			Actor:      actorName(ctx),
			At:         s.timestamp(),
		})
		return err
	})
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	if result.DriftAlert {
		metrics.BalanceDrift.Inc()
		s.logger.Warn("customer balance drifted from ledger",
			zap.String("customer_id", customerID),
			zap.String("register", result.Previous.String()),
			zap.String("ledger", result.Recalculated.String()),
			zap.String("delta", result.Delta.String()),
		)
	}
	return result, nil
}

// CheckBalance compares the register with the ledger without writing.
func (s *Service) CheckBalance(ctx context.Context, customerID string) (domain.ReconcileResult, error) {
	var result domain.ReconcileResult
	err := s.inTx(ctx, "check_balance", func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = s.measureDrift(ctx, tx, customerID)
		return err
	})
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	if result.DriftAlert {
		return result, &domain.BalanceInconsistencyError{
			CustomerID: customerID,
			Register:   result.Previous,
			Ledger:     result.Recalculated,
			Drift:      result.Delta,
		}
	}
	return result, nil
}

func (s *Service) measureDrift(ctx context.Context, tx store.Tx, customerID string) (domain.ReconcileResult, error) {
	customer, err := tx.GetCustomerForUpdate(ctx, customerID)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	entries, err := tx.CustomerLedgerEntries(ctx, customer.ID)
	if err != nil {
		return domain.ReconcileResult{}, err
	}
	recalculated := balance.FromLedger(entries)
	delta := recalculated - customer.Balance
	return domain.ReconcileResult{
		CustomerID:   customer.ID,
		Previous:     customer.Balance,
		Recalculated: recalculated,
		Delta:        delta,
		Entries:      len(entries),
		DriftAlert:   balance.Exceeds(delta, s.tolerance),
	}, nil
}

// ReconcileAll reconciles every customer under a job lease so two runs never
// overlap. The lease is refreshed every reconcileBatch customers; if it has
// been lost the run stops rather than race a second one.
func (s *Service) ReconcileAll(ctx context.Context) ([]domain.ReconcileResult, error) {
	lease, err := s.jobs.Acquire(ctx, reconcileAllJob, reconcileAllLease)
	if errors.Is(err, cache.ErrJobRunning) {
		return nil, domain.Conflict("a full reconciliation is already running")
	}
	if err != nil {
		return nil, classify("acquire reconcile lease", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release reconcile lease", zap.Error(err))
		}
	}()

	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, classify("list customers", err)
	}

	results := make([]domain.ReconcileResult, 0, len(customers))
	drifted := 0
	for i, c := range customers {
		if i > 0 && i%reconcileBatch == 0 {
			err := lease.Refresh(ctx, reconcileAllLease)
			if errors.Is(err, cache.ErrLeaseLost) {
				s.logger.Warn("reconcile lease lost", zap.Int("reconciled", len(results)))
				return results, domain.Conflict("reconciliation lease expired after %d customers", len(results))
			}
			if err != nil {
				return results, classify("refresh reconcile lease", err)
			}
		}
		result, err := s.RecalculateFromLedger(ctx, c.ID)
		if err != nil {
			return results, fmt.Errorf("reconcile %s: %w", c.ID, err)
		}
		if result.Delta != 0 {
			drifted++
		}
		results = append(results, result)
	}
	s.logger.Info("reconciliation finished", zap.Int("customers", len(results)), zap.Int("adjusted", drifted))
	return results, nil
}
