package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.MinPayout.String() != "100" {
		t.Errorf("MinPayout = %s, want 100", cfg.MinPayout)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if cfg.PayoutMaxAttempts != 5 {
		t.Errorf("PayoutMaxAttempts = %d", cfg.PayoutMaxAttempts)
	}
	if len(cfg.Tokens) != 2 || cfg.Tokens[0] != "USDC" {
		t.Errorf("Tokens = %v", cfg.Tokens)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(EnvMap{
		"MIN_PAYOUT_NGN":   "250.50",
		"CHAIN_IDS":        "1,137",
		"POLL_INTERVAL":    "10s",
		"CONTRACT_ADDRESS": "0xABCDEF",
		"KAFKA_BROKERS":    "k1:9092, k2:9092",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MinPayout.String() != "250.5" {
		t.Errorf("MinPayout = %s", cfg.MinPayout)
	}
	if len(cfg.ChainIDs) != 2 || cfg.ChainIDs[1] != 137 {
		t.Errorf("ChainIDs = %v", cfg.ChainIDs)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if cfg.ContractAddress != "0xabcdef" {
		t.Errorf("ContractAddress = %q, want lowered", cfg.ContractAddress)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []EnvMap{
		{"START_BLOCK": "abc"},
		{"POLL_INTERVAL": "soon"},
		{"MIN_PAYOUT_NGN": "one hundred"},
		{"CHAIN_IDS": "1,x"},
		{"PAYOUT_MAX_ATTEMPTS": "many"},
	}
	for _, env := range cases {
		if _, err := Load(env); err == nil {
			t.Errorf("expected error for %v", env)
		}
	}
}
