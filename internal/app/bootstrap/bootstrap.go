package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	catalogservice "circulate/contexts/circulation/catalog-service"
	catalogpostgres "circulate/contexts/circulation/catalog-service/adapters/postgres"
	lendingledger "circulate/contexts/circulation/lending-ledger"
	ledgerpostgres "circulate/contexts/circulation/lending-ledger/adapters/postgres"
	workerapp "circulate/contexts/circulation/lending-ledger/application/workers"
	adminaccessauthority "circulate/contexts/identity-access/admin-access-authority"
	authoritypostgres "circulate/contexts/identity-access/admin-access-authority/adapters/postgres"
	"circulate/internal/platform/config"
	"circulate/internal/platform/db"
	"circulate/internal/platform/httpserver"
	"circulate/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server    *httpserver.Server
	postgres  *db.Postgres
	authority adminaccessauthority.Module
	cfg       config.Config
	logger    *slog.Logger
}

type WorkerApp struct {
	postgres       *db.Postgres
	outboxRelay    workerapp.OutboxRelay
	overdueScanner workerapp.OverdueScanner
	scanOverdue    bool
	pollInterval   time.Duration
	logger         *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	authorityRepo := authoritypostgres.NewRepository(pg.DB, logger)
	authorityModule := adminaccessauthority.NewModule(adminaccessauthority.Dependencies{
		Grants: authorityRepo,
		Clock:  authoritypostgres.SystemClock{},
		Logger: logger,
	})

	ledgerRepo := ledgerpostgres.NewRepository(pg.DB, logger)
	ledgerModule := lendingledger.NewModule(lendingledger.Dependencies{
		Loans:             ledgerRepo,
		Access:            authorityModule.Service,
		Outbox:            ledgerRepo,
		Clock:             ledgerpostgres.SystemClock{},
		IDGenerator:       ledgerpostgres.UUIDGenerator{},
		LoanPeriod:        time.Duration(cfg.LoanPeriodDays) * 24 * time.Hour,
		DailyFine:         cfg.DailyFineAmount,
		SingleLoanPerBook: cfg.EnableDuplicateLoanGuard,
		Logger:            logger,
	})

	catalogRepo := catalogpostgres.NewRepository(pg.DB, logger)
	catalogModule := catalogservice.NewModule(catalogservice.Dependencies{
		Books:       catalogRepo,
		Access:      authorityModule.Service,
		Clock:       catalogpostgres.SystemClock{},
		IDGenerator: catalogpostgres.UUIDGenerator{},
		Logger:      logger,
	})

	server := httpserver.New(ledgerModule, catalogModule, authorityModule, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:    server,
		postgres:  pg,
		authority: authorityModule,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	bus, err := messaging.NewBus(cfg.MessageBrokers, logger)
	if err != nil {
		return nil, err
	}

	repo := ledgerpostgres.NewRepository(pg.DB, logger)
	return &WorkerApp{
		postgres: pg,
		outboxRelay: workerapp.OutboxRelay{
			Outbox:    repo,
			Publisher: bus,
			Clock:     ledgerpostgres.SystemClock{},
			Topic:     "circulation.loans",
			BatchSize: 100,
			Logger:    logger,
		},
		overdueScanner: workerapp.OverdueScanner{
			Loans:    repo,
			Outbox:   repo,
			Dedup:    repo,
			Clock:    ledgerpostgres.SystemClock{},
			DedupTTL: 30 * 24 * time.Hour,
			Logger:   logger,
		},
		scanOverdue:  cfg.EnableOverdueScanner,
		pollInterval: 2 * time.Second,
		logger:       logger,
	}, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	// Optional first-admin seeding; refused by the authority once any
	// grant exists, so restarts are harmless.
	if email := strings.TrimSpace(a.cfg.BootstrapAdminEmail); email != "" {
		if _, err := a.authority.Service.Bootstrap(ctx, email); err != nil {
			a.logger.Info("admin bootstrap skipped",
				"event", "bootstrap_admin_skipped",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"reason", err.Error(),
			)
		}
	}

	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
		"overdue_scanner", w.scanOverdue,
	)

	for {
		if w.scanOverdue {
			if err := w.overdueScanner.RunOnce(ctx); err != nil {
				return err
			}
		}
		if err := w.outboxRelay.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
