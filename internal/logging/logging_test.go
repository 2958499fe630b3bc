package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestConfigure(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})

	if err := Configure("debug", "json"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if _, ok := log.StandardLogger().Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", log.StandardLogger().Formatter)
	}

	if err := Configure("loud", "text"); err == nil {
		t.Fatal("expected invalid level to fail")
	}
	if err := Configure("info", "xml"); err == nil {
		t.Fatal("expected invalid format to fail")
	}
}
