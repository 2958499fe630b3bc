package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")
	t.Setenv("STOCK_SCAN_SCHEDULE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Address())
	}
	if cfg.AccessTokenTTL().Hours() != 24 {
		t.Fatalf("expected one day token ttl, got %s", cfg.AccessTokenTTL())
	}
	if cfg.StockScanSchedule != "@hourly" {
		t.Fatalf("expected hourly scan, got %q", cfg.StockScanSchedule)
	}
}

func TestBrokersSplitsList(t *testing.T) {
	cfg := Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092"}
	got := cfg.Brokers()
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if (Config{}).Brokers() != nil {
		t.Fatal("expected no brokers when unset")
	}
}
