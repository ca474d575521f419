package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/nerrad567/divert-core/internal/api"
	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/auth"
	"github.com/nerrad567/divert-core/internal/clone"
	"github.com/nerrad567/divert-core/internal/discovery"
	"github.com/nerrad567/divert-core/internal/engine/agent"
	"github.com/nerrad567/divert-core/internal/engine/n8n"
	"github.com/nerrad567/divert-core/internal/events"
	"github.com/nerrad567/divert-core/internal/execution"
	"github.com/nerrad567/divert-core/internal/infrastructure/database"
	"github.com/nerrad567/divert-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/divert-core/internal/infrastructure/logging"
	"github.com/nerrad567/divert-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/divert-core/internal/integration"
	"github.com/nerrad567/divert-core/internal/registry"
	"github.com/nerrad567/divert-core/internal/vault"
)

// runServe is the long-running service, separated from the command for
// testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to config.yaml
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func runServe(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo,funlen // linear startup sequence
	logging.Default().Info("starting Divert Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	c, err := openCore(ctx, configPath)
	if err != nil {
		return err
	}
	defer c.close()
	cfg, log := c.cfg, c.log

	// Credential vault
	key, err := vault.ResolveKey(cfg.Security.Vault, log.Component("vault"))
	if err != nil {
		return fmt.Errorf("resolving vault key: %w", err)
	}
	credVault, err := vault.New(vault.NewSQLiteRepository(c.db.X()), key)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	credVault.SetLogger(log.Component("vault"))

	integrations := integration.NewManager(credVault, integration.NewTester(nil))
	integrations.SetLogger(log.Component("integration"))

	// Connect to MQTT broker (optional event export)
	var mqttClient *mqtt.Client
	if cfg.Events.MQTTEnabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Events.TopicPrefix)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT event export disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub, shared by the API server and the event bus
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	bus, err := startEventBus(ctx, log, hub, mqttClient, influxClient)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing event bus", "error", closeErr)
		}
	}()

	// Engines
	engine := n8n.New(cfg.N8N, nil)
	engine.SetLogger(log.Component("n8n"))

	teams := agent.NewDispatcher(cfg.Agents)
	teams.SetLogger(log.Component("agents"))

	records := execution.NewSQLiteRepository(c.db.X())
	orchestrator := execution.NewOrchestrator(
		execution.Config{TeamsDir: cfg.Catalog.TeamsDir, WorkflowsDir: cfg.Catalog.WorkflowsDir},
		c.registry, records, teams, engine, credVault,
	)
	orchestrator.SetLogger(log.Component("execution"))
	orchestrator.SetPublisher(bus)

	clones := clone.NewService(cfg.Catalog.WorkflowsDir, c.registry, engine, records)
	clones.SetLogger(log.Component("clone"))
	clones.SetAuditTrail(c.trail)

	instances := registry.NewInstances(c.registry)
	instances.SetLogger(log.Component("registry"))

	// Accounts
	users := auth.NewUserRepository(c.db.X())
	if _, seedErr := auth.SeedAdmin(ctx, users, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}
	authSvc := auth.NewService(users, cfg.Security.JWT)
	authSvc.SetLogger(log.Component("auth"))

	// Catalog discovery
	c.coordinator.SetPublisher(bus)
	if cfg.Catalog.SyncOnStartup {
		// Sync errors are reported in the summary; startup continues.
		summary := c.coordinator.Sync(ctx, audit.SourceStartup)
		log.Info("startup catalog sync complete",
			"ok", summary.OK(),
			"teams", summary.Teams.Total,
			"workflows", summary.Workflows.Total,
			"warnings", len(summary.Warnings),
		)
	}
	if cfg.Catalog.SyncSchedule != "" {
		scheduler, schedErr := discovery.NewScheduler(c.coordinator, cfg.Catalog.SyncSchedule)
		if schedErr != nil {
			return fmt.Errorf("creating sync scheduler: %w", schedErr)
		}
		scheduler.SetLogger(log.Component("scheduler"))
		scheduler.Start()
		defer scheduler.Stop()
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log.Component("api"),
		DB:           c.db,
		Auth:         authSvc,
		Registry:     c.registry,
		Instances:    instances,
		Orchestrator: orchestrator,
		Clones:       clones,
		Integrations: integrations,
		Vault:        credVault,
		Coordinator:  c.coordinator,
		AuditRepo:    c.auditRepo,
		AuditTrail:   c.trail,
		ExternalHub:  hub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, c.db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, scheduler,
	// event bus, InfluxDB, MQTT, database.
	return nil
}

// startEventBus wires the event sinks and starts delivery. It returns once
// every sink is subscribed, so no early event is dropped.
func startEventBus(ctx context.Context, log *logging.Logger, hub *api.Hub, mqttClient *mqtt.Client, influxClient *influxdb.Client) (*events.Bus, error) {
	bus, err := events.NewBus(watermill.NewSlogLogger(log.Component("watermill").Logger))
	if err != nil {
		return nil, fmt.Errorf("creating event bus: %w", err)
	}
	bus.SetLogger(log.Component("events"))

	bus.AddSink("websocket", events.NewHubSink(hub))
	if mqttClient != nil {
		bus.AddSink("mqtt", events.NewMQTTSink(mqttClient))
	}
	if influxClient != nil {
		metrics := events.NewMetricsSink(influxClient)
		bus.AddSink("influxdb", metrics, metrics.Types()...)
	}

	go func() {
		if runErr := bus.Run(ctx); runErr != nil {
			log.Error("event bus stopped", "error", runErr)
		}
	}()

	select {
	case <-bus.Running():
	case <-ctx.Done():
		_ = bus.Close()
		return nil, fmt.Errorf("starting event bus: %w", ctx.Err())
	}
	return bus, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error

	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}

	// The workflow engine is probed per run; an unreachable engine only
	// disables workflow execution.
	return errors.Join(errs...)
}
