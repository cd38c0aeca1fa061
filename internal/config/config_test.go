package config

import (
	"testing"
	"time"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadParsesLedgerSettings(t *testing.T) {
	t.Setenv("BALANCE_DRIFT_TOLERANCE", "-0.50")
	t.Setenv("SUMMARY_CACHE_TTL_SECONDS", "90")
	t.Setenv("LEDGER_TIMEZONE", "Asia/Karachi")
	t.Setenv("SEED_DEMO_DATA", "false")

	cfg := Load()
	if cfg.BalanceDriftTolerance != money.MustParse("0.50") {
		t.Fatalf("expected tolerance 0.50, got %s", cfg.BalanceDriftTolerance)
	}
	if cfg.SummaryTTL() != 90*time.Second {
		t.Fatalf("expected 90s summary ttl, got %s", cfg.SummaryTTL())
	}
	if cfg.SeedDemoData {
		t.Fatalf("expected demo data to be disabled")
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc.String() != "Asia/Karachi" {
		t.Fatalf("unexpected location %s", loc)
	}
}

func TestLoadFallsBackOnGarbage(t *testing.T) {
	t.Setenv("BALANCE_DRIFT_TOLERANCE", "lots")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-3")

	cfg := Load()
	if cfg.BalanceDriftTolerance != 0 {
		t.Fatalf("expected zero tolerance, got %s", cfg.BalanceDriftTolerance)
	}
	if cfg.TokenTTL() != 480*time.Minute {
		t.Fatalf("expected default token ttl, got %s", cfg.TokenTTL())
	}
}

func TestLocationRejectsUnknownZone(t *testing.T) {
	cfg := Config{LedgerTimezone: "Mars/Olympus"}
	if _, err := cfg.Location(); err == nil {
		t.Fatalf("expected unknown zone to fail")
	}
}
