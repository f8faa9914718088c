package main

import (
	"context"
	"fmt"
	"log"

	"payrecon/internal/domain/etl"
	"payrecon/internal/domain/notification"
	"payrecon/internal/domain/reconciliation"
	"payrecon/internal/domain/transaction"
	"payrecon/internal/infrastructure/payshack"
	"payrecon/internal/infrastructure/postgres"
	"payrecon/internal/infrastructure/vima"
	httphandlers "payrecon/internal/interfaces/http"
	"payrecon/internal/shared/config"
	"payrecon/internal/shared/runlock"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	SyncHandler           *httphandlers.SyncHandler
	ReconciliationHandler *httphandlers.ReconciliationHandler

	// Orchestration (for scheduler jobs)
	Orchestrators map[transaction.Source]*etl.Orchestrator
	Engine        *reconciliation.Engine
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Initialize repositories
	transactionRepo := postgres.NewTransactionRepository(db)
	syncStateRepo := postgres.NewSyncStateRepository(db)
	reconciliationRepo := postgres.NewReconciliationRepository(db)

	// Initialize provider clients and their page sources
	vimaClient := vima.NewClient(cfg.Vima.BaseURL, cfg.Vima.APIKey)
	payshackClient := payshack.NewClient(cfg.PayShack.BaseURL, cfg.PayShack.Email, cfg.PayShack.Password)

	sources := map[transaction.Source]etl.Source{
		transaction.SourceVima:     vima.NewSource(vimaClient),
		transaction.SourcePayshack: payshack.NewSource(payshackClient),
	}

	// One lock registry shared by syncs and reconciliation
	registry := runlock.NewRegistry()
	notifier := notification.NewLogNotifier()

	etlConfig := etl.Config{
		PageSize:     cfg.Sync.PageSize,
		BackfillDays: cfg.Sync.BackfillDays,
	}

	orchestrators := make(map[transaction.Source]*etl.Orchestrator, len(sources))
	for name, source := range sources {
		orchestrators[name] = etl.NewOrchestrator(source, transactionRepo, syncStateRepo, registry, notifier, etlConfig)
	}

	engine := reconciliation.NewEngine(transactionRepo, reconciliationRepo, registry, notifier)

	// Initialize handlers
	syncHandler := httphandlers.NewSyncHandler(orchestrators, syncStateRepo)
	reconciliationHandler := httphandlers.NewReconciliationHandler(engine, reconciliationRepo)

	return &Dependencies{
		DB:                    db,
		SyncHandler:           syncHandler,
		ReconciliationHandler: reconciliationHandler,
		Orchestrators:         orchestrators,
		Engine:                engine,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
