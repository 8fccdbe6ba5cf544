package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/akriventsev/stockledger/internal/migrations"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	dbURL := flag.String("database-url", os.Getenv("POSTGRES_DSN"), "Postgres connection string")
	migrationsDir := flag.String("migrations-dir", "./migrations", "Path to migrations directory")
	flag.CommandLine.Parse(os.Args[2:])

	if *dbURL == "" {
		fmt.Fprintln(os.Stderr, "Error: --database-url or POSTGRES_DSN is required")
		os.Exit(1)
	}

	if err := migrations.SetDialect("postgres"); err != nil {
		fatal(err)
	}

	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		fatal(fmt.Errorf("failed to open database: %w", err))
	}
	defer db.Close()

	switch command {
	case "up":
		if err := migrations.Up(db, *migrationsDir); err != nil {
			fatal(err)
		}
		fmt.Println("Migrations applied successfully")
	case "down":
		if len(flag.Args()) > 0 {
			target, err := strconv.ParseInt(flag.Args()[0], 10, 64)
			if err != nil {
				fatal(fmt.Errorf("invalid target version: %w", err))
			}
			if err := migrations.DownTo(db, *migrationsDir, target); err != nil {
				fatal(err)
			}
		} else if err := migrations.Down(db, *migrationsDir); err != nil {
			fatal(err)
		}
		fmt.Println("Rollback completed")
	case "status":
		statuses, err := migrations.GetStatus(db, *migrationsDir)
		if err != nil {
			fatal(err)
		}
		fmt.Println("Migration Status:")
		fmt.Println("================")
		for _, status := range statuses {
			fmt.Printf("[%s] %d - %s", status.State, status.Version, status.Name)
			if status.AppliedAt != nil {
				fmt.Printf(" (applied at %s)", status.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println()
		}
	case "version":
		version, err := migrations.Version(db)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Current version: %d\n", version)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Stock Ledger Migration Tool")
	fmt.Println()
	fmt.Println("Usage: stockledger-migrate <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up             - Apply all pending migrations")
	fmt.Println("  down [version] - Rollback last migration (or down to version)")
	fmt.Println("  status         - Show status of all migrations")
	fmt.Println("  version        - Show current migration version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --database-url    - Postgres connection string (default: $POSTGRES_DSN)")
	fmt.Println("  --migrations-dir  - Path to migrations directory (default: ./migrations)")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
