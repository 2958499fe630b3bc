package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"tallernegreira/backend/internal/store/postgres"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fail("%v", err)
	}
}

func run(args []string, out io.Writer) error {
	var (
		direction string
		steps     int
		dsn       string
	)

	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flags.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flags.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: DATABASE_URL)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(dsn) == "" {
		_ = godotenv.Load()
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL (or -dsn) is required")
	}

	direction = strings.ToLower(strings.TrimSpace(direction))
	switch direction {
	case "up", "status":
	case "down":
		if steps <= 0 {
			steps = 1
		}
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", direction)
	}

	status, err := postgres.Migrate(dsn, direction, steps)
	if err != nil {
		return fmt.Errorf("migrate %s failed: %w", direction, err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d dirty=%t\n", direction, status.Version, status.Dirty)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
