package app

import (
	"context"
	"fmt"

	"github.com/tiltcheck/trust-layer/internal/app/events"
	"github.com/tiltcheck/trust-layer/internal/app/services/accounts"
	"github.com/tiltcheck/trust-layer/internal/app/services/adminauth"
	analyticssvc "github.com/tiltcheck/trust-layer/internal/app/services/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/services/ledger"
	sessionssvc "github.com/tiltcheck/trust-layer/internal/app/services/sessions"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
	"github.com/tiltcheck/trust-layer/internal/app/storage/memory"
	"github.com/tiltcheck/trust-layer/internal/app/system"
	"github.com/tiltcheck/trust-layer/internal/mirror"
	"github.com/tiltcheck/trust-layer/pkg/logger"
)

// DefaultOwnerID is the ecosystem owner's Discord id; override via Options.
const DefaultOwnerID = "1174481962614931507"

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation; a nil Mirror defaults to the no-op mirror.
type Stores struct {
	Sessions  storage.SessionStore
	Trust     storage.TrustStore
	Accounts  storage.AccountStore
	Legal     storage.LegalStore
	Analytics storage.AnalyticsStore
	Mirror    storage.Mirror
}

// Options tunes application behavior beyond storage.
type Options struct {
	OwnerID      string
	AdminSecret  []byte
	ScoreTable   map[string]int
	BranchAccess []string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Sessions  *sessionssvc.Service
	Ledger    *ledger.Service
	Accounts  *accounts.Service
	AdminAuth *adminauth.Service
	Analytics *analyticssvc.Service
	Events    *events.Hub
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Sessions == nil {
		stores.Sessions = mem
	}
	if stores.Trust == nil {
		stores.Trust = mem
	}
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Legal == nil {
		stores.Legal = mem
	}
	if stores.Analytics == nil {
		stores.Analytics = mem
	}
	if stores.Mirror == nil {
		stores.Mirror = mirror.Noop{}
	}

	if opts.OwnerID == "" {
		opts.OwnerID = DefaultOwnerID
	}
	if len(opts.AdminSecret) == 0 {
		return nil, fmt.Errorf("admin secret is required")
	}

	manager := system.NewManager()
	hub := events.NewHub(log)

	sessionService := sessionssvc.New(stores.Sessions, stores.Mirror, log)
	ledgerService := ledger.New(stores.Accounts, stores.Trust, stores.Legal, stores.Mirror, log).
		WithScoreTable(opts.ScoreTable)
	ledgerService.AttachNotifier(hub)
	accountService := accounts.New(stores.Accounts, stores.Legal, sessionService, stores.Mirror, log).
		WithBranchAccess(opts.BranchAccess)
	accountService.AttachNotifier(hub)
	adminService := adminauth.New(ledgerService, stores.Sessions, opts.OwnerID, opts.AdminSecret, log)
	analyticsService := analyticssvc.New(stores.Analytics, stores.Mirror, log)

	if err := manager.Register(hub); err != nil {
		return nil, fmt.Errorf("register events hub: %w", err)
	}
	for _, name := range []string{"sessions", "ledger", "accounts", "adminauth", "analytics"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Sessions:  sessionService,
		Ledger:    ledgerService,
		Accounts:  accountService,
		AdminAuth: adminService,
		Analytics: analyticsService,
		Events:    hub,
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
