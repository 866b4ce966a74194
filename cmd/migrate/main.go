package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/midaseth/dolomite-margin-modules/internal/persistence"
)

const usage = `Usage: migrate <up|down>

Commands:
  up    apply all pending migrations
  down  roll back the last applied migration

Environment:
  DOLO_POSTGRES_DSN    Postgres connection string
  DOLO_MIGRATIONS_DIR  migrations directory (default: migrations)
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(command string) error {
	dsn := os.Getenv("DOLO_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/dolomite_modules?sslmode=disable"
	}
	dir := os.Getenv("DOLO_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	migrator := persistence.NewMigrator(db, dir)
	switch command {
	case "up":
		return migrator.Up(ctx)
	case "down":
		return migrator.Down(ctx)
	default:
		return fmt.Errorf("unknown command %q (use up or down)", command)
	}
}
