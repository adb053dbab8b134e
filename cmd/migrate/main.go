package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/backoffice/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envDSN         = "BACKOFFICE_POSTGRES_DSN"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fail("load .env: %v", err)
	}
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		fail("%v", err)
	}
}

// run разбирает флаги и выполняет одну команду мигратора.
func run(args []string, out io.Writer, getenv func(string) string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	direction := fs.String("direction", "up", "migration direction: up|down|status")
	steps := fs.Int("steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (fallback: "+envDSN+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := strings.TrimSpace(*dsn)
	if target == "" {
		target = strings.TrimSpace(getenv(envDSN))
	}
	if target == "" {
		return fmt.Errorf("%s (or -dsn) is required", envDSN)
	}

	mode := strings.ToLower(strings.TrimSpace(*direction))
	switch mode {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", *direction)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, target)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	migrator, err := postgres.NewMigrator(store)
	if err != nil {
		return err
	}

	switch mode {
	case "up":
		applied, err := migrator.Up(ctx, *steps)
		if err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		_, _ = fmt.Fprintf(out, "migrate up ok: applied=%d\n", applied)
	case "down":
		reverted, err := migrator.Down(ctx, *steps)
		if err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		_, _ = fmt.Fprintf(out, "migrate down ok: reverted=%d\n", reverted)
	}

	state, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migration status: version=%d applied=%d pending=%d\n",
		state.Current, len(state.Applied), len(state.Pending))
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
