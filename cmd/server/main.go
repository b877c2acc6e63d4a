package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-redis/redis/v8"

	"tenantly/internal/api"
	"tenantly/internal/api/handlers"
	"tenantly/internal/api/middleware"
	"tenantly/internal/engine/lifecycle"
	"tenantly/internal/engine/rollback"
	"tenantly/internal/engine/schema"
	syncengine "tenantly/internal/engine/sync"
	"tenantly/internal/engine/validation"
	"tenantly/internal/notify"
	"tenantly/internal/pkg/logger"
	"tenantly/internal/platform/audit"
	"tenantly/internal/platform/auth"
	"tenantly/internal/platform/config"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/repositories"
	"tenantly/internal/platform/tenant"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging, "server")

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	// Repositories
	tenantRepo := repositories.NewTenantRepository(db)
	identityRepo := repositories.NewIdentityRepository(db)
	hybridRepo := repositories.NewHybridRepository(db)

	// Engine
	store := schema.NewStore(db)
	orchestrator := lifecycle.NewOrchestrator(db, store, tenantRepo, hybridRepo)
	validator := validation.NewValidator(db, store, tenantRepo, hybridRepo, cfg.Validate.QueryThreshold)
	coordinator := rollback.NewCoordinator(db, store, tenantRepo, hybridRepo, cfg.Rollback.BackupDir)
	syncLogs := syncengine.NewLogStore(db)
	syncer := syncengine.NewSyncer(db, tenantRepo, syncLogs, cfg.Sync.BatchSize, cfg.Sync.MaxRetries, cfg.Sync.RetryBackoff)

	var queue *syncengine.Queue
	if rdb != nil {
		queue = syncengine.NewQueue(rdb)
	}

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	notifier := notify.NewNotifier(cfg.Notify)
	auditLogger := audit.NewLogger(db)
	resolver := tenant.NewResolver(tenantRepo, identityRepo, cfg.Server.BaseDomain)

	// Handlers
	identityHandler := handlers.NewIdentityHandler(identityRepo, tokenSvc)
	tenantHandler := handlers.NewTenantHandler(tenantRepo, hybridRepo)
	migrationHandler := handlers.NewMigrationHandler(orchestrator, tenantRepo, notifier)
	rollbackHandler := handlers.NewRollbackHandler(coordinator, notifier)
	syncHandler := handlers.NewSyncHandler(syncer, syncLogs, queue)
	validationHandler := handlers.NewValidationHandler(validator, notifier)
	healthHandler := handlers.NewHealthHandler(db, rdb)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc)
	gateway := middleware.NewGateway(resolver, orchestrator, syncer, queue, auditLogger)

	router := api.NewRouter(&api.Dependencies{
		IdentityHandler:   identityHandler,
		TenantHandler:     tenantHandler,
		MigrationHandler:  migrationHandler,
		RollbackHandler:   rollbackHandler,
		SyncHandler:       syncHandler,
		ValidationHandler: validationHandler,
		HealthHandler:     healthHandler,
		AuthMiddleware:    authMiddleware,
		Gateway:           gateway,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
