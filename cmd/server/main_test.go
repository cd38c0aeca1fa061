package main

import (
	"testing"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456", LedgerTimezone: "UTC"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154", LedgerTimezone: "Asia/Karachi"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigRejectsUnknownTimezone(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154", LedgerTimezone: "Mars/Olympus"})
	if err == nil {
		t.Fatalf("expected unknown ledger timezone to be rejected")
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"786786", "444444", "345678", "876543"} {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
	if err := validatePINStrength("739154"); err != nil {
		t.Fatalf("expected 739154 to pass, got %v", err)
	}
}
