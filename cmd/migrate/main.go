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

	"github.com/caarlos0/env/v11"

	"github.com/vladislavdragonenkov/ordering/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type direction string

const (
	directionUp     direction = "up"
	directionDown   direction = "down"
	directionStatus direction = "status"
)

// envConfig читает те же переменные окружения, что и сервис.
type envConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN"`
}

type options struct {
	direction direction
	steps     int
	dsn       string
	timeout   time.Duration
}

// migrator покрывает часть postgres.Store, нужную CLI.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
	Close() error
}

var openMigrator = func(ctx context.Context, dsn string) (migrator, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseOptions(args []string) (options, error) {
	var (
		opts    options
		raw     string
		fs      = flag.NewFlagSet("migrate", flag.ContinueOnError)
		fromEnv envConfig
	)
	fs.SetOutput(io.Discard)
	fs.StringVar(&raw, "direction", string(directionUp), "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: ORDERING_POSTGRES_DSN)")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch d := direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case directionUp, directionDown, directionStatus:
		opts.direction = d
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", raw)
	}

	if strings.TrimSpace(opts.dsn) == "" {
		if err := env.ParseWithOptions(&fromEnv, env.Options{Prefix: "ORDERING_"}); err != nil {
			return options{}, fmt.Errorf("parse environment: %w", err)
		}
		opts.dsn = fromEnv.PostgresDSN
	}
	opts.dsn = strings.TrimSpace(opts.dsn)

	switch {
	case opts.dsn == "":
		return options{}, errors.New("ORDERING_POSTGRES_DSN (or -dsn) is required")
	case opts.steps < 0:
		return options{}, errors.New("steps must be >= 0")
	case opts.timeout <= 0:
		return options{}, errors.New("timeout must be > 0")
	}
	if opts.direction == directionDown && opts.steps == 0 {
		opts.steps = 1
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := openMigrator(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.direction {
	case directionUp:
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case directionDown:
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	if opts.direction == directionStatus {
		_, err = fmt.Fprintf(out, "migration status: version=%d applied=%d\n", version, count)
	} else {
		_, err = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", opts.direction, version, count)
	}
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
