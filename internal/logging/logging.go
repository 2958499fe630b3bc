// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Configure sets the global level and formatter. format is "text" or "json".
func Configure(level string, format string) error {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q (use text|json)", format)
	}
	return nil
}
