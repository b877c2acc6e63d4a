package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tenantly/internal/engine/lifecycle"
	"tenantly/internal/engine/rollback"
	"tenantly/internal/engine/schema"
	syncengine "tenantly/internal/engine/sync"
	"tenantly/internal/engine/validation"
	"tenantly/internal/pkg/logger"
	"tenantly/internal/platform/config"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/repositories"
)

const usage = `tenantctl <command> [flags]

Commands:
  init             apply the global migrations
  migrate          migrate one tenant to its own schema (-tenant)
  migrate-recover  resume a migration stranded in migrating (-tenant)
  rollback         roll one tenant back to hybrid tables (-tenant, -reason)
  recover          resume an interrupted rollback (-tenant, -reason)
  rollback-all     roll back every completed tenant (-reason, -format)
  validate         validate one tenant's migration (-tenant)
  validate-all     validate every completed tenant
  cleanup          drop orphaned tenant schemas
  sync-logs-prune  prune old sync logs (-days)
`

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	tenantID := flag.String("tenant", "", "Tenant ID")
	reason := flag.String("reason", "", "Rollback reason")
	format := flag.String("format", "md", "Batch report format: md, json or csv")
	days := flag.Int("days", 30, "Sync log retention in days")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Logging, "tenantctl")

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	tenantRepo := repositories.NewTenantRepository(db)
	hybridRepo := repositories.NewHybridRepository(db)
	store := schema.NewStore(db)
	orchestrator := lifecycle.NewOrchestrator(db, store, tenantRepo, hybridRepo)
	coordinator := rollback.NewCoordinator(db, store, tenantRepo, hybridRepo, cfg.Rollback.BackupDir)
	validator := validation.NewValidator(db, store, tenantRepo, hybridRepo, cfg.Validate.QueryThreshold)

	ctx := context.Background()

	switch command {
	case "init":
		if err := applyGlobalMigrations(ctx, db); err != nil {
			log.Fatalf("Global migrations failed: %v", err)
		}
		fmt.Println("Global migrations applied")

	case "migrate":
		requireTenant(*tenantID)
		schemaName, err := orchestrator.MigrateTenant(ctx, *tenantID)
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Tenant %s migrated to schema %s\n", *tenantID, schemaName)

	case "migrate-recover":
		requireTenant(*tenantID)
		schemaName, err := orchestrator.RecoverMigration(ctx, *tenantID)
		if err != nil {
			log.Fatalf("Migration recovery failed: %v", err)
		}
		fmt.Printf("Tenant %s migration recovered, schema %s\n", *tenantID, schemaName)

	case "rollback":
		requireTenant(*tenantID)
		requireReason(*reason)
		result := coordinator.RollbackTenantMigration(ctx, *tenantID, *reason)
		printJSON(result)
		if !result.Success {
			os.Exit(1)
		}

	case "recover":
		requireTenant(*tenantID)
		requireReason(*reason)
		result := coordinator.RecoverPartialRollback(ctx, *tenantID, *reason)
		printJSON(result)
		if !result.Success {
			os.Exit(1)
		}

	case "rollback-all":
		requireReason(*reason)
		batch, err := coordinator.RollbackAll(ctx, *reason)
		if err != nil {
			log.Fatalf("Batch rollback failed: %v", err)
		}
		switch *format {
		case "json":
			out, err := rollback.RenderJSON(batch)
			if err != nil {
				log.Fatalf("Report rendering failed: %v", err)
			}
			fmt.Println(string(out))
		case "csv":
			out, err := rollback.RenderCSV(batch)
			if err != nil {
				log.Fatalf("Report rendering failed: %v", err)
			}
			fmt.Print(out)
		default:
			fmt.Print(rollback.RenderMarkdown(batch))
		}
		if batch.Failed > 0 {
			os.Exit(1)
		}

	case "validate":
		requireTenant(*tenantID)
		report, err := validator.ValidateTenantMigration(ctx, *tenantID)
		if err != nil {
			log.Fatalf("Validation failed to run: %v", err)
		}
		printJSON(report)
		if report.OverallStatus == validation.StatusFailed {
			os.Exit(1)
		}

	case "validate-all":
		batch, err := validator.ValidateBatch(ctx)
		if err != nil {
			log.Fatalf("Batch validation failed to run: %v", err)
		}
		printJSON(batch)
		if batch.Failed > 0 {
			os.Exit(1)
		}

	case "cleanup":
		dropped, err := coordinator.CleanupOrphanedSchemas(ctx)
		if err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
		if len(dropped) == 0 {
			fmt.Println("No orphaned schemas")
		}
		for _, name := range dropped {
			fmt.Printf("Dropped %s\n", name)
		}

	case "sync-logs-prune":
		removed, err := syncengine.NewLogStore(db).CleanupSyncLogs(ctx, *days)
		if err != nil {
			log.Fatalf("Prune failed: %v", err)
		}
		fmt.Printf("Removed %d sync log rows\n", removed)

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func requireTenant(id string) {
	if id == "" {
		log.Fatal("-tenant flag is required")
	}
}

func requireReason(reason string) {
	if reason == "" {
		log.Fatal("-reason flag is required")
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to render output: %v", err)
	}
	fmt.Println(string(out))
}

// applyGlobalMigrations replays every .sql file under migrations/global in
// lexical order.
func applyGlobalMigrations(ctx context.Context, db *sql.DB) error {
	dir := "migrations/global"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		log.Printf("Applied %s", name)
	}
	return nil
}
