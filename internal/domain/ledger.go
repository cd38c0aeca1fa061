package domain

import "strings"

// Before orders entries by logical date, then by insertion sequence.
func (e LedgerEntry) Before(other LedgerEntry) bool {
	if !e.Date.Equal(other.Date) {
		return e.Date.Before(other.Date)
	}
	return e.Seq < other.Seq
}

// Matches applies every non-empty filter field; pagination is left to the caller.
func (f LedgerFilter) Matches(e LedgerEntry) bool {
	if f.Month != "" && e.Month != f.Month {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Method != "" && e.Method != f.Method {
		return false
	}
	if f.CustomerID != "" && e.Ref.CustomerID != f.CustomerID {
		return false
	}
	query := strings.ToLower(strings.TrimSpace(f.Query))
	if query == "" {
		return true
	}
	for _, field := range []string{
		e.ID, e.Description, e.Ref.OrderID, e.Ref.CustomerID, e.Ref.ProductID, e.Ref.ExpenseID,
	} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}
