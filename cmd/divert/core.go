package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/discovery"
	"github.com/nerrad567/divert-core/internal/infrastructure/config"
	"github.com/nerrad567/divert-core/internal/infrastructure/database"
	"github.com/nerrad567/divert-core/internal/infrastructure/logging"
	"github.com/nerrad567/divert-core/internal/registry"
)

// core holds the components every command needs: configuration, logger,
// migrated database and the catalog sync path.
type core struct {
	cfg         *config.Config
	log         *logging.Logger
	db          *database.DB
	registry    *registry.SQLiteRepository
	auditRepo   *audit.SQLiteRepository
	trail       *audit.Trail
	coordinator *discovery.Coordinator
}

// loadConfig reads configuration and builds the configured logger.
func loadConfig(configPath string) (*config.Config, *logging.Logger, error) {
	log := logging.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	return cfg, log, nil
}

// openRaw opens the database without touching the schema.
func openRaw(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// openDatabase opens and migrates the database.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := openRaw(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// openCore loads configuration, opens the database and assembles the
// discovery path. Callers must call close.
func openCore(ctx context.Context, configPath string) (*core, error) {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	c := &core{cfg: cfg, log: log, db: db}

	c.auditRepo = audit.NewSQLiteRepository(db.DB)
	c.trail = audit.NewTrail(c.auditRepo)
	c.trail.SetLogger(log.Component("audit"))

	c.registry = registry.NewSQLiteRepository(db.X())

	teams := catalog.NewTeamScanner(cfg.Catalog.TeamsDir)
	workflows := catalog.NewWorkflowScanner(cfg.Catalog.WorkflowsDir)
	for _, s := range []*catalog.Scanner{teams, workflows} {
		s.SetReservedPrefix(cfg.Catalog.ReservedPrefix)
		s.SetLogger(log.Component("catalog"))
	}

	reconciler := registry.NewReconciler(c.registry)
	reconciler.SetLogger(log.Component("registry"))

	c.coordinator = discovery.NewCoordinator(teams, workflows, reconciler)
	c.coordinator.SetLogger(log.Component("discovery"))
	c.coordinator.SetAuditTrail(c.trail)

	return c, nil
}

func (c *core) close() {
	c.log.Info("closing database")
	if err := c.db.Close(); err != nil {
		c.log.Error("error closing database", "error", err)
	}
}
