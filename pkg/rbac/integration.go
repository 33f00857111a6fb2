package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/padron/pkg/observability"
)

// Config holds role store configuration
type Config struct {
	// Dialect is the role database driver, postgres or sqlite3
	Dialect string

	// SelfRegistration provisions unknown users on the default role
	SelfRegistration bool

	// AuxiliaryUsername is the reserved administrator account
	AuxiliaryUsername string

	// IntegritySchedule is the cron schedule of the hierarchy check, empty to disable
	IntegritySchedule string
}

// Manager wires the role store, engine, handlers and background checks
type Manager struct {
	db        *sql.DB
	store     *Store
	engine    *Engine
	handlers  *Handlers
	identity  *IdentityMiddleware
	integrity *IntegrityChecker
	logger    *observability.Logger
	config    Config
}

// NewManager creates a new manager over db. metrics may be nil.
func NewManager(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics, config Config) *Manager {
	store := NewStore(db)
	engine := NewEngine(store, logger, metrics, EngineConfig{
		SelfRegistration:  config.SelfRegistration,
		AuxiliaryUsername: config.AuxiliaryUsername,
	})

	m := &Manager{
		db:       db,
		store:    store,
		engine:   engine,
		handlers: NewHandlers(engine, logger),
		identity: NewIdentityMiddleware(engine),
		logger:   logger,
		config:   config,
	}
	if config.IntegritySchedule != "" {
		m.integrity = NewIntegrityChecker(store, logger, metrics, config.IntegritySchedule)
	}
	return m
}

// Initialize runs migrations and provisions the auxiliary administrator
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.db, m.config.Dialect, m.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := m.engine.EnsureAuxiliaryAdmin(ctx); err != nil {
		return fmt.Errorf("failed to provision auxiliary administrator: %w", err)
	}

	return nil
}

// Start launches the background integrity checker
func (m *Manager) Start() error {
	if m.integrity == nil {
		return nil
	}
	return m.integrity.Start()
}

// Stop halts background work
func (m *Manager) Stop() {
	if m.integrity != nil {
		m.integrity.Stop()
	}
}

// RegisterRoutes mounts /api and /admin on router. authn authenticates the
// session before the identity is resolved. extra runs after the identity is
// known and, on /admin, before the administrator check.
func (m *Manager) RegisterRoutes(router *mux.Router, authn func(http.Handler) http.Handler, extra ...mux.MiddlewareFunc) (api, admin *mux.Router) {
	chain := append([]mux.MiddlewareFunc{authn, m.identity.Handler}, extra...)

	api = router.PathPrefix("/api").Subrouter()
	api.Use(chain...)
	m.handlers.RegisterAPIRoutes(api)

	admin = router.PathPrefix("/admin").Subrouter()
	admin.Use(append(chain, RequireAdmin)...)
	m.handlers.RegisterRoutes(admin)

	return api, admin
}

// GetStore returns the role store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetEngine returns the permission engine
func (m *Manager) GetEngine() *Engine {
	return m.engine
}

// GetIntegrityChecker returns the hierarchy checker, nil when disabled
func (m *Manager) GetIntegrityChecker() *IntegrityChecker {
	return m.integrity
}
