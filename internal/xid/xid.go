package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// LedgerID formats the sequential label carried by ledger entries.
func LedgerID(seq int64) string {
	return fmt.Sprintf("TXN-%06d", seq)
}
