// Command ledgerctl runs ledger maintenance against the configured store:
// reconciliation, chain verification, summaries and entry listings.
package main

import (
	"fmt"
	"os"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/config"
)

func main() {
	if err := run(config.Load, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
