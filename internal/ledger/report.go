package ledger

import (
	"slices"
	"strings"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
)

// Summarize folds one month of entries. opening is the latest entry dated
// before the month, or nil when the month starts the ledger.
func Summarize(month string, opening *domain.LedgerEntry, entries []domain.LedgerEntry, generatedAt time.Time) domain.MonthlySummary {
	summary := domain.MonthlySummary{
		Month:       month,
		EntryCount:  len(entries),
		ByType:      []domain.SummaryBucket{},
		ByMethod:    []domain.SummaryBucket{},
		GeneratedAt: generatedAt,
	}
	if opening != nil {
		summary.OpeningBalance = opening.RunningBalance
	}

	byType := map[string]*domain.SummaryBucket{}
	byMethod := map[string]*domain.SummaryBucket{}
	for _, e := range entries {
		summary.TotalCredit += e.Credit
		summary.TotalDebit += e.Debit
		addToBucket(byType, string(e.Type), e)
		addToBucket(byMethod, string(e.Method), e)
	}
	summary.Net = summary.TotalCredit - summary.TotalDebit
	summary.ClosingBalance = summary.OpeningBalance + summary.Net
	summary.ByType = sortedBuckets(byType)
	summary.ByMethod = sortedBuckets(byMethod)
	return summary
}

func addToBucket(buckets map[string]*domain.SummaryBucket, key string, e domain.LedgerEntry) {
	bucket, ok := buckets[key]
	if !ok {
		bucket = &domain.SummaryBucket{Key: key}
		buckets[key] = bucket
	}
	bucket.Entries++
	bucket.Credit += e.Credit
	bucket.Debit += e.Debit
}

func sortedBuckets(buckets map[string]*domain.SummaryBucket) []domain.SummaryBucket {
	out := make([]domain.SummaryBucket, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, *bucket)
	}
	slices.SortFunc(out, func(a, b domain.SummaryBucket) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// VerifyChain replays entries in (date, seq) order and checks that every
// running balance equals its predecessor's plus credit minus debit, so the
// head always carries the sum of the whole ledger. A corrupt entry is
// reported once; later entries are checked against the value actually stored.
func VerifyChain(entries []domain.LedgerEntry) domain.ChainReport {
	report := domain.ChainReport{Entries: len(entries), Violations: []domain.ChainViolation{}}

	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b domain.LedgerEntry) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})

	var prev *domain.LedgerEntry
	for i := range ordered {
		e := ordered[i]
		expected := NextBalance(prev, e.Credit, e.Debit)
		if expected != e.RunningBalance {
			report.Violations = append(report.Violations, domain.ChainViolation{
				EntryID:  e.ID,
				Seq:      e.Seq,
				Expected: expected,
				Actual:   e.RunningBalance,
			})
		}
		prev = &ordered[i]
	}

	if prev != nil {
		report.Head = prev.ID
		report.Balance = prev.RunningBalance
	}
	return report
}
