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
	"github.com/iamhuraira/pharmaKhata-sub000/internal/ledger"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/metrics"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
)

const maxAuditLimit = 500

// AppendLedgerEntry records a business entry that does not move a customer
// balance: purchases, expenses, remittances, commissions and untagged
// adjustments. Customer-facing money goes through orders, advances and debts.
func (s *Service) AppendLedgerEntry(ctx context.Context, req domain.ManualEntryRequest) (domain.LedgerEntry, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Ref.CustomerID = strings.TrimSpace(req.Ref.CustomerID)
	if err := s.check(req); err != nil {
		return domain.LedgerEntry{}, err
	}
	if req.Ref.CustomerID != "" && balance.Attributable(req.Type) {
		return domain.LedgerEntry{}, domain.NewValidationError("ref.customer_id",
			"%s entries for a customer must be recorded through orders, advances or debts", req.Type)
	}
	if req.Credit == 0 && req.Debit == 0 {
		return domain.LedgerEntry{}, domain.NewValidationError("credit", "credit or debit must be non-zero")
	}

	var (
		entry     domain.LedgerEntry
		duplicate bool
	)
	err := s.inTx(ctx, "append_entry", func(ctx context.Context, tx store.Tx) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.FindLedgerEntryByIdempotency(ctx, req.IdempotencyKey)
			if err == nil {
				entry, duplicate = *existing, true
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		if req.Ref.CustomerID != "" {
			if _, err := tx.GetCustomerBalance(ctx, req.Ref.CustomerID); err != nil {
				return err
			}
		}

		var err error
		entry, err = s.book.Append(ctx, tx, domain.LedgerEntryInput{
			Date:           dateOrZero(req.Date),
			Type:           req.Type,
			Method:         req.Method,
			Credit:         req.Credit,
			Debit:          req.Debit,
			Ref:            req.Ref,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
			CreatedBy:      actorName(ctx),
		})
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, "ledger.append", "ledger_entry", entry.ID, fmt.Sprintf(
			"type=%s,method=%s,credit=%s,debit=%s", entry.Type, entry.Method, entry.Credit, entry.Debit,
		))
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if !duplicate {
		s.afterLedgerWrite(ctx, entry)
	}
	return entry, nil
}

func (s *Service) ListLedgerEntries(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	filter.Month = strings.TrimSpace(filter.Month)
	if filter.Month != "" {
		if _, err := ledger.ParseMonth(filter.Month, s.book.Location()); err != nil {
			return nil, err
		}
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.NewValidationError("type", "unknown entry type %q", filter.Type)
	}
	if filter.Method != "" && !filter.Method.Valid() {
		return nil, domain.NewValidationError("method", "unknown payment method %q", filter.Method)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, domain.NewValidationError("limit", "limit and offset must not be negative")
	}

	entries, err := s.repo.ListLedgerEntries(ctx, filter)
	if err != nil {
		return nil, classify("list ledger entries", err)
	}
	return entries, nil
}

// GetMonthlySummary reports one calendar month of the ledger. Results are
// cached until the next ledger write.
func (s *Service) GetMonthlySummary(ctx context.Context, month string) (domain.MonthlySummary, error) {
	month = strings.TrimSpace(month)
	start, err := ledger.ParseMonth(month, s.book.Location())
	if err != nil {
		return domain.MonthlySummary{}, err
	}

	// The generation is read before the ledger so a write committing during
	// the computation leaves this summary under a retired key.
	gen, err := s.summaries.Generation(ctx)
	if err != nil {
		s.logger.Warn("summary cache generation read failed", zap.Error(err))
		return s.computeMonthlySummary(ctx, month, start)
	}

	cached, ok, err := s.summaries.Get(ctx, gen, month)
	if err != nil {
		s.logger.Warn("summary cache read failed", zap.String("month", month), zap.Error(err))
	}
	if ok && cached != nil {
		metrics.SummaryCache.WithLabelValues("hit").Inc()
		return *cached, nil
	}
	metrics.SummaryCache.WithLabelValues("miss").Inc()

	summary, err := s.computeMonthlySummary(ctx, month, start)
	if err != nil {
		return domain.MonthlySummary{}, err
	}
	if err := s.summaries.Set(ctx, gen, month, &summary, s.summaryTTL); err != nil {
		s.logger.Warn("summary cache write failed", zap.String("month", month), zap.Error(err))
	}
	return summary, nil
}

func (s *Service) computeMonthlySummary(ctx context.Context, month string, start time.Time) (domain.MonthlySummary, error) {
	opening, err := s.repo.LastLedgerEntryBefore(ctx, start.UTC())
	if err != nil {
		return domain.MonthlySummary{}, classify("monthly summary", err)
	}
	entries, err := s.repo.ListLedgerEntries(ctx, domain.LedgerFilter{Month: month})
	if err != nil {
		return domain.MonthlySummary{}, classify("monthly summary", err)
	}
	return ledger.Summarize(month, opening, entries, s.timestamp()), nil
}

// VerifyLedgerChain replays the whole ledger and reports running-balance
// entries that do not follow from their predecessor.
func (s *Service) VerifyLedgerChain(ctx context.Context) (domain.ChainReport, error) {
	entries, err := s.repo.ListLedgerEntriesInSequence(ctx)
	if err != nil {
		return domain.ChainReport{}, classify("verify ledger", err)
	}
	report := ledger.VerifyChain(entries)
	if !report.OK() {
		s.logger.Error("ledger running balance chain broken",
			zap.Int("violations", len(report.Violations)),
			zap.String("first_entry", report.Violations[0].EntryID),
		)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	if filter.Limit <= 0 || filter.Limit > maxAuditLimit {
		filter.Limit = 100
	}
	logs, err := s.repo.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, classify("list audit logs", err)
	}
	return logs, nil
}
