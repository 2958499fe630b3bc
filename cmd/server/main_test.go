package main

import (
	"testing"

	"tallernegreira/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", AccessTokenTTLMinutes: 60})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTLMinutes: 60})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestRestockScannerDisabledWithoutSchedule(t *testing.T) {
	scheduler, err := startRestockScanner(nil, "")
	if err != nil || scheduler != nil {
		t.Fatalf("expected no scheduler for an empty schedule, got %v %v", scheduler, err)
	}
}
