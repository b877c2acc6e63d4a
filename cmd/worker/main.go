package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"tenantly/internal/engine/rollback"
	"tenantly/internal/engine/schema"
	syncengine "tenantly/internal/engine/sync"
	"tenantly/internal/pkg/logger"
	"tenantly/internal/platform/config"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/repositories"
	"tenantly/internal/workers"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging, "worker")

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var queue *syncengine.Queue
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		queue = syncengine.NewQueue(rdb)
	}

	tenantRepo := repositories.NewTenantRepository(db)
	hybridRepo := repositories.NewHybridRepository(db)
	store := schema.NewStore(db)

	syncLogs := syncengine.NewLogStore(db)
	syncer := syncengine.NewSyncer(db, tenantRepo, syncLogs, cfg.Sync.BatchSize, cfg.Sync.MaxRetries, cfg.Sync.RetryBackoff)
	coordinator := rollback.NewCoordinator(db, store, tenantRepo, hybridRepo, cfg.Rollback.BackupDir)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	log.Println("Starting background workers")
	workers.New(queue, syncer, syncLogs, coordinator, cfg.Sync.LogRetention).Run(ctx)
	log.Println("Workers stopped")
}
