// Команда migrate управляет схемой PostgreSQL площадки вне сервиса.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/agromarket/internal/storage/postgres"
	"github.com/vladislavdragonenkov/agromarket/internal/version"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "MARKET_POSTGRES_DSN"
)

// directions допустимые значения -direction; status схему не меняет.
var directions = []string{"down", "status", "up"}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fail("load .env: %v", err)
	}
	if err := run(os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// run разбирает флаги и применяет, откатывает или показывает миграции.
func run(args []string, lookup func(string) (string, bool), out io.Writer) error {
	var (
		direction   string
		steps       int
		dsn         string
		showVersion bool
	)

	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(out)
	flags.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flags.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flags.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flags.BoolVar(&showVersion, "version", false, "print build info and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if showVersion {
		_, _ = fmt.Fprintln(out, version.String())
		return nil
	}

	direction = strings.ToLower(strings.TrimSpace(direction))
	if !slices.Contains(directions, direction) {
		return fmt.Errorf("unsupported direction: %s (use %s)", direction, strings.Join(directions, "|"))
	}

	if dsn = strings.TrimSpace(dsn); dsn == "" {
		if v, ok := lookup(envPostgresDSN); ok {
			dsn = strings.TrimSpace(v)
		}
	}
	if dsn == "" {
		return errors.New(envPostgresDSN + " (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	// Миграции держат одно соединение под advisory lock.
	store, err := postgres.Open(ctx, dsn, postgres.WithMaxConns(2))
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch direction {
	case "up":
		err = store.MigrateUp(ctx, steps)
	case "down":
		err = store.MigrateDown(ctx, steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s failed: %w", direction, err)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n", direction, state.Version, state.Applied, state.Pending)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
