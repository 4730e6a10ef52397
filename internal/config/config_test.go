package config

import (
	"testing"
	"time"

	"github.com/yourorg/goldbtc-metrics/internal/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Network != types.NetworkMainnet {
		t.Errorf("expected mainnet default, got %s", cfg.Network)
	}
	if cfg.Decimals.Asset0 != 8 {
		t.Errorf("expected asset0 decimals 8, got %d", cfg.Decimals.Asset0)
	}
	if cfg.Decimals.Asset1 != 18 {
		t.Errorf("expected asset1 decimals 18, got %d", cfg.Decimals.Asset1)
	}
	if cfg.Decimals.LPToken != 6 {
		t.Errorf("expected LP token decimals 6, got %d", cfg.Decimals.LPToken)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("expected 30s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.SnapshotCount != 7 {
		t.Errorf("expected snapshot count 7, got %d", cfg.SnapshotCount)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LP_TOKEN_DECIMALS", "18")
	t.Setenv("POLL_INTERVAL", "10s")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("PORT override not applied: %s", cfg.Port)
	}
	if cfg.Decimals.LPToken != 18 {
		t.Errorf("LP_TOKEN_DECIMALS override not applied: %d", cfg.Decimals.LPToken)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("POLL_INTERVAL override not applied: %v", cfg.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default mainnet config should validate: %v", err)
	}

	bad := cfg
	bad.Contracts.Vault = "not-an-address"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for malformed vault address")
	}

	bad = cfg
	bad.Network = types.Network("devnet")
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown network")
	}

	bad = cfg
	bad.PollInterval = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero poll interval")
	}
}

func TestVaultID(t *testing.T) {
	cfg := Config{Contracts: types.Contracts{Vault: "0xAbCd000000000000000000000000000000000001"}}
	if got := cfg.VaultID(); got != "0xabcd000000000000000000000000000000000001" {
		t.Errorf("VaultID should lowercase the address, got %s", got)
	}
}
