// Telemetry Core - IoT ingestion and protocol bridge
//
// This is the main entry point for the telemetry core. It accepts
// device messages over HTTP and MQTT, normalises and persists them,
// keeps canonical device state current, and forwards accepted telemetry
// to the configured secondary protocols.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/astrodev/telemetry-core/migrations"

	"github.com/astrodev/telemetry-core/internal/api"
	"github.com/astrodev/telemetry-core/internal/device"
	"github.com/astrodev/telemetry-core/internal/forward"
	"github.com/astrodev/telemetry-core/internal/infrastructure/config"
	"github.com/astrodev/telemetry-core/internal/infrastructure/database"
	"github.com/astrodev/telemetry-core/internal/infrastructure/influxdb"
	"github.com/astrodev/telemetry-core/internal/infrastructure/logging"
	"github.com/astrodev/telemetry-core/internal/infrastructure/mqtt"
	"github.com/astrodev/telemetry-core/internal/ingest"
	"github.com/astrodev/telemetry-core/internal/settings"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// bridgeRetryInterval is how often a dead persistent bridge session is
// re-dialled.
const bridgeRetryInterval = 30 * time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting telemetry core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	deviceRepo := device.NewSQLiteRepository(db.DB)
	readingRepo := device.NewSQLiteReadingRepository(db.DB, nil)
	historyRepo := device.NewSQLiteStatusHistoryRepository(db.DB, nil)
	settingsRepo := settings.NewSQLiteRepository(db.DB)

	// Connect to InfluxDB (optional telemetry mirror)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connection manager owns every broker session (operator tests and
	// the persistent bridge)
	manager := mqtt.NewManager(log)
	defer func() {
		log.Info("closing broker sessions")
		manager.ForceCloseAll()
	}()

	// WebSocket hub, shared by the API server and the ingest router
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	feed := api.NewFeed(hub)

	// Protocol forwarder
	forwarder := forward.New(forward.Config{
		Settings:    settingsRepo,
		SyncURL:     cfg.Sync.URL,
		SyncTimeout: cfg.GetSyncTimeout(),
		Broadcaster: hub,
		Logger:      log,
	})
	defer func() {
		log.Info("draining pending forwards")
		forwarder.Wait()
	}()

	// Ingest router
	routerCfg := ingest.RouterConfig{
		Devices:     deviceRepo,
		Readings:    readingRepo,
		History:     historyRepo,
		Forwarder:   forwarder,
		Tester:      manager,
		Broadcaster: hub,
		Logger:      log,
	}
	if influxClient != nil {
		routerCfg.Mirror = influxClient
	}
	router := ingest.NewRouter(routerCfg)

	// API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Router:      router,
		Settings:    settingsRepo,
		Devices:     deviceRepo,
		Readings:    readingRepo,
		History:     historyRepo,
		ExternalHub: hub,
		Version:     version,
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

	// Persistent bridge session (optional)
	if cfg.Bridge.Enabled {
		go superviseBridge(ctx, cfg.Bridge, manager, settingsRepo, router, log, feed)
	} else {
		log.Info("persistent bridge disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, server, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Forwarder drain
	// 3. Broker sessions
	// 4. InfluxDB (if enabled)
	// 5. Database

	log.Info("telemetry core stopped")
	return nil
}

// superviseBridge keeps one persistent bridge session alive. The
// connection manager disables broker-library auto-reconnect, so a lost
// session stays dead until this loop re-dials it.
//
// Settings are read fresh on every dial: the stored protocol settings
// win, and the static bridge config is only a fallback for databases
// that have never been configured.
func superviseBridge(ctx context.Context, fallback config.BridgeConfig, manager *mqtt.Manager,
	settingsRepo settings.Repository, router *ingest.Router, log *logging.Logger, feed *api.Feed) {
	ticker := time.NewTicker(bridgeRetryInterval)
	defer ticker.Stop()

	for {
		if session := manager.Session(mqtt.RoleBridge); session == nil || !session.IsConnected() {
			if err := connectBridge(ctx, fallback, manager, settingsRepo, router, log); err != nil {
				log.Warn("bridge connect failed", "error", err)
				feed.Warnf("bridge connect failed: %v", err)
			} else {
				feed.Infof("bridge connected")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// connectBridge dials the persistent session and subscribes the
// configured device topics into the ingest pipeline.
func connectBridge(ctx context.Context, fallback config.BridgeConfig, manager *mqtt.Manager,
	settingsRepo settings.Repository, router *ingest.Router, log *logging.Logger) error {
	brokerCfg, topics := bridgeTarget(ctx, fallback, settingsRepo)
	if brokerCfg.Broker == "" {
		return fmt.Errorf("no broker configured")
	}

	session, err := manager.Connect(mqtt.RoleBridge, brokerCfg, true)
	if err != nil {
		return err
	}

	// Per-topic failures are warnings; a session with a partial
	// subscription set still carries the topics that did bind.
	for _, topic := range topics {
		if subErr := session.Subscribe(topic, func(topic string, payload []byte) error {
			return router.HandleMQTT(context.Background(), topic, payload)
		}); subErr != nil {
			log.Warn("bridge subscription failed", "topic", topic, "error", subErr)
		}
	}

	log.Info("bridge session established",
		"broker", brokerCfg.Broker,
		"topics", session.SubscriptionCount(),
	)
	return nil
}

// bridgeTarget resolves where the bridge should connect: the stored
// protocol settings when present and enabled, otherwise the static
// config fallback.
func bridgeTarget(ctx context.Context, fallback config.BridgeConfig, settingsRepo settings.Repository) (mqtt.BrokerConfig, []string) {
	stored, err := settingsRepo.Get(ctx)
	if err == nil && stored.MQTT.Enabled && stored.MQTT.Broker != "" {
		return mqtt.BrokerConfig{
			Broker:   stored.MQTT.Broker,
			Username: stored.MQTT.Username,
			Password: stored.MQTT.Password,
			ClientID: stored.MQTT.ClientID,
		}, stored.MQTT.Topics.All()
	}

	return mqtt.BrokerConfig{
		Broker:   fallback.Broker,
		Username: fallback.Username,
		Password: fallback.Password,
		ClientID: fallback.ClientID,
	}, nil
}

// getConfigPath returns the configuration file path.
// Uses TELEMETRY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TELEMETRY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection
//   - server: API server
//   - influxClient: InfluxDB client (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, server *api.Server, influxClient *influxdb.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := server.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
