package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/akriventsev/stocksync/framework/migrations"
	catalogpg "github.com/akriventsev/stocksync/internal/catalog/infrastructure/postgres"
	"github.com/akriventsev/stocksync/internal/config"
	stockpg "github.com/akriventsev/stocksync/internal/stock/infrastructure/postgres"
)

// схемы сервисов
var services = map[string]func() fs.FS{
	"catalog-service": catalogpg.Migrations,
	"stock-service":   stockpg.Migrations,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	service := flag.String("service", "", "Service whose schema is migrated (catalog-service or stock-service)")
	configPath := flag.String("config", "", "Path to service configuration file")
	dbURL := flag.String("database-url", "", "Database connection string, overrides database.dsn")
	verbose := flag.Bool("verbose", false, "Verbose output")

	_ = flag.CommandLine.Parse(os.Args[2:])

	source, ok := services[*service]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: --service must be catalog-service or stock-service\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*service, *configPath)
	if err != nil && *dbURL == "" {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	dsn := cfg.Database.DSN
	if *dbURL != "" {
		dsn = *dbURL
	}
	tableName := cfg.Migrations.TableName
	if tableName == "" {
		tableName = config.SchemaTable(*service)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	migrator, err := migrations.Open(dsn, source(), migrations.Options{
		TableName: tableName,
		Verbose:   *verbose,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	err = execute(ctx, migrator, command, flag.Args())
	_ = migrator.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, migrator *migrations.Migrator, command string, args []string) error {
	switch command {
	case "up":
		applied, err := migrator.UpBy(ctx, steps(args, 0))
		if err != nil {
			return err
		}
		fmt.Printf("Applied %d migration(s)\n", applied)
	case "down":
		rolledBack, err := migrator.Down(ctx, steps(args, 1))
		if err != nil {
			return err
		}
		fmt.Printf("Rolled back %d migration(s)\n", rolledBack)
	case "status":
		return runStatus(ctx, migrator)
	case "version":
		version, err := migrator.Version(ctx)
		if err != nil {
			return err
		}
		if version == 0 {
			fmt.Println("No migrations applied")
		} else {
			fmt.Println(version)
		}
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

func steps(args []string, fallback int) int {
	if len(args) == 0 {
		return fallback
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fallback
	}
	return n
}

func runStatus(ctx context.Context, migrator *migrations.Migrator) error {
	statuses, err := migrator.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Migration Status:")
	fmt.Println("================")
	for _, status := range statuses {
		fmt.Printf("[%s] %d - %s", status.Status, status.Version, status.Name)
		if status.AppliedAt != nil {
			fmt.Printf(" (applied at %s)", status.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

func printUsage() {
	fmt.Println("stocksync migration tool")
	fmt.Println()
	fmt.Println("Usage: stocksync-migrate <command> --service <name> [flags] [N]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up [N]     - Apply all pending migrations (or N migrations)")
	fmt.Println("  down [N]   - Rollback N migrations (default: 1)")
	fmt.Println("  status     - Show status of all migrations")
	fmt.Println("  version    - Show current migration version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --service       - catalog-service or stock-service (required)")
	fmt.Println("  --config        - Service configuration file")
	fmt.Println("  --database-url  - Database connection string, overrides database.dsn")
	fmt.Println("  --verbose       - Verbose output")
}
