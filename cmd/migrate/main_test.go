package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestRunRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	err := run([]string{"-direction", "status"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}

func TestRunRejectsUnknownDirection(t *testing.T) {
	err := run([]string{"-direction", "sideways", "-dsn", "postgres://localhost/none"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unsupported direction") {
		t.Fatalf("expected unsupported direction error, got %v", err)
	}
}

func TestRunStatusAgainstDatabase(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TALLER_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TALLER_TEST_DATABASE_URL not set")
	}

	var out bytes.Buffer
	if err := run([]string{"-direction", "up", "-dsn", dsn}, &out); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out.String(), "migrate up ok") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
