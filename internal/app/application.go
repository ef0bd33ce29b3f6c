package app

import (
	"context"
	"fmt"

	"github.com/crowdgrid/platform/internal/app/audit"
	"github.com/crowdgrid/platform/internal/app/pathfind"
	"github.com/crowdgrid/platform/internal/app/services/accounts"
	ledgersvc "github.com/crowdgrid/platform/internal/app/services/ledger"
	modelssvc "github.com/crowdgrid/platform/internal/app/services/models"
	updatessvc "github.com/crowdgrid/platform/internal/app/services/updates"
	"github.com/crowdgrid/platform/internal/app/storage"
	"github.com/crowdgrid/platform/internal/app/storage/memory"
	"github.com/crowdgrid/platform/internal/app/system"
	"github.com/crowdgrid/platform/pkg/logger"
)

// Options configures the application. A nil Store defaults to the in-memory
// implementation; a nil AuditSink keeps the audit trail in memory only.
type Options struct {
	Store           storage.Store
	AuditSink       audit.Sink
	AuditMaxEntries int
	Pathfinder      *pathfind.Engine
	Log             *logger.Logger
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store storage.Store
	Audit *audit.Log

	Accounts *accounts.Service
	Ledger   *ledgersvc.Service
	Models   *modelssvc.Service
	Updates  *updatessvc.Service
}

// New builds a fully initialised application.
func New(opts Options) (*Application, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("app")
	}

	store := opts.Store
	if store == nil {
		store = memory.New()
	}

	maxEntries := opts.AuditMaxEntries
	if maxEntries <= 0 {
		maxEntries = 200
	}
	auditLog := audit.NewLog(maxEntries, opts.AuditSink)

	finder := opts.Pathfinder
	if finder == nil {
		finder = pathfind.NewEngine()
	}

	ledgerService := ledgersvc.New(store, auditLog, log)
	acctService := accounts.New(store, log)
	modelService := modelssvc.New(store, ledgerService, finder, log)
	updateService := updatessvc.New(store, ledgerService, log)

	manager := system.NewManager()
	for _, name := range []string{"accounts", "ledger", "models", "updates"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if closer, ok := opts.AuditSink.(interface{ Close() error }); ok {
		if err := manager.Register(&sinkService{closer: closer}); err != nil {
			return nil, fmt.Errorf("register audit sink: %w", err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Store:    store,
		Audit:    auditLog,
		Accounts: acctService,
		Ledger:   ledgerService,
		Models:   modelService,
		Updates:  updateService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// sinkService closes the audit sink on shutdown.
type sinkService struct {
	closer interface{ Close() error }
}

func (s *sinkService) Name() string { return "audit-sink" }

func (s *sinkService) Start(ctx context.Context) error { return nil }

func (s *sinkService) Stop(ctx context.Context) error { return s.closer.Close() }
