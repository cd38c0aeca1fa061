// Package ledger appends entries to the global cash ledger and derives the
// running balance, monthly summaries and chain checks from it.
//
// The running balance is a whole-business figure: entries for every
// customer interleave in one sequence.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/xid"
)

// MonthLayout is the "YYYY-MM" key stored on every entry.
const MonthLayout = "2006-01"

type Book struct {
	loc *time.Location
	now func() time.Time
}

// NewBook derives calendar fields in loc. A nil clock means time.Now.
func NewBook(loc *time.Location, now func() time.Time) *Book {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Book{loc: loc, now: now}
}

func (b *Book) Location() *time.Location {
	return b.loc
}

// Append writes one entry inside tx. The head lookup takes the ledger lock,
// so the running balance cannot be computed from a stale head. An explicit
// date earlier than the head is rejected; a defaulted date behind the head
// (clock skew between processes) is moved up to it.
func (b *Book) Append(ctx context.Context, tx store.Tx, in domain.LedgerEntryInput) (domain.LedgerEntry, error) {
	if err := Validate(in); err != nil {
		return domain.LedgerEntry{}, err
	}

	head, err := tx.LedgerHead(ctx)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("read ledger head: %w", err)
	}
	seq, err := tx.NextLedgerSeq(ctx)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("next ledger sequence: %w", err)
	}

	now := b.now().UTC().Truncate(time.Microsecond)
	date := in.Date
	defaulted := date.IsZero()
	if defaulted {
		date = now
	}
	date = date.UTC().Truncate(time.Microsecond)
	// Dates never go backwards along the sequence, so the insertion-order
	// predecessor is also the (date, seq) predecessor the balance chains from.
	if head != nil && date.Before(head.Date) {
		if !defaulted {
			return domain.LedgerEntry{}, domain.NewValidationError("date",
				"must not be earlier than the latest ledger entry (%s)", head.Date.Format(time.RFC3339))
		}
		date = head.Date
	}

	entry := domain.LedgerEntry{
		ID:             strings.TrimSpace(in.ID),
		Seq:            seq,
		Date:           date,
		Type:           in.Type,
		Method:         in.Method,
		Credit:         in.Credit,
		Debit:          in.Debit,
		RunningBalance: NextBalance(head, in.Credit, in.Debit),
		Ref:            in.Ref,
		Description:    strings.TrimSpace(in.Description),
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
	}
	if entry.ID == "" {
		entry.ID = xid.LedgerID(seq)
	}
	b.stampCalendar(&entry)

	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func (b *Book) stampCalendar(e *domain.LedgerEntry) {
	local := e.Date.In(b.loc)
	e.Month = local.Format(MonthLayout)
	e.Year = local.Year()
	e.MonthNumber = int(local.Month())
	e.Day = local.Day()
}

// NextBalance applies credit and debit to the head's running balance; an
// empty ledger starts from zero.
func NextBalance(head *domain.LedgerEntry, credit, debit money.Amount) money.Amount {
	var prev money.Amount
	if head != nil {
		prev = head.RunningBalance
	}
	return prev + credit - debit
}

func Validate(in domain.LedgerEntryInput) error {
	var errs domain.ValidationErrors
	if in.Credit.IsNegative() {
		errs = append(errs, domain.NewValidationError("credit", "must not be negative"))
	}
	if in.Debit.IsNegative() {
		errs = append(errs, domain.NewValidationError("debit", "must not be negative"))
	}
	if !in.Type.Valid() {
		errs = append(errs, domain.NewValidationError("type", "unknown entry type %q", in.Type))
	}
	if !in.Method.Valid() {
		errs = append(errs, domain.NewValidationError("method", "unknown payment method %q", in.Method))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParseMonth validates a "YYYY-MM" key and returns the first instant of that
// month in loc.
func ParseMonth(month string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(MonthLayout, strings.TrimSpace(month), loc)
	if err != nil {
		return time.Time{}, domain.NewValidationError("month", "expected YYYY-MM, got %q", month)
	}
	return start, nil
}
