// NAD Bridge - MQTT control bridge for NAD audio/video receivers.
//
// This is the main entry point for the bridge. It maintains a persistent
// TCP session to a NAD receiver, mirrors the receiver's state onto MQTT,
// and executes commands received from the host automation system. All
// receiver state flows one way: the receiver's own response lines are the
// only source of truth.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/nad-bridge/migrations"

	"github.com/nerrad567/nad-bridge/internal/bridges/nad"
	"github.com/nerrad567/nad-bridge/internal/device"
	"github.com/nerrad567/nad-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nad-bridge/internal/infrastructure/database"
	"github.com/nerrad567/nad-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/nad-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/nad-bridge/internal/infrastructure/mqtt"
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

// History retention settings.
const (
	historyRetention     = 30 * 24 * time.Hour
	historyPruneInterval = 24 * time.Hour
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
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
	log.Info("starting NAD bridge",
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

	// State history repository
	historyRepo := device.NewSQLiteStateHistoryRepository(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

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

	// Start the receiver controller (retries forever until Stop)
	controller := nad.NewController(nad.ControllerConfig{
		Address:        cfg.Receiver.Address(),
		ConnectTimeout: cfg.Receiver.GetConnectTimeout(),
		ReadTimeout:    cfg.Receiver.GetReadTimeout(),
		ReconnectDelay: cfg.Receiver.GetReconnectDelay(),
	})
	controller.SetLogger(log)
	if startErr := controller.Start(ctx); startErr != nil {
		return fmt.Errorf("starting receiver controller: %w", startErr)
	}
	defer func() {
		log.Info("stopping receiver controller")
		controller.Stop()
	}()
	log.Info("receiver controller started", "address", cfg.Receiver.Address())

	// Assemble the bridge
	bridgeOpts := nad.BridgeOptions{
		DeviceID:        cfg.Receiver.DeviceID,
		Address:         cfg.Receiver.Address(),
		Version:         version,
		RefreshInterval: cfg.Receiver.GetRefreshInterval(),
		MQTTClient:      &mqttBridgeAdapter{client: mqttClient},
		Controller:      controller,
		Logger:          log,
		History:         &historyRecorderAdapter{repo: historyRepo},
	}
	if influxClient != nil {
		bridgeOpts.Telemetry = influxClient
	}

	bridge, err := nad.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()
	log.Info("bridge started", "device_id", cfg.Receiver.DeviceID)

	// Background history retention
	go pruneHistoryLoop(ctx, historyRepo, log)

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Bridge (publishes stopping status and offline availability)
	// 2. Receiver controller
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("NAD bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NADBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NADBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Receiver connectivity is not checked here: the controller retries
	// forever, and the bridge publishes availability as it changes.

	return nil
}

// pruneHistoryLoop deletes state history older than the retention window.
func pruneHistoryLoop(ctx context.Context, repo *device.SQLiteStateHistoryRepository, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.PruneHistory(ctx, historyRetention)
			if err != nil {
				log.Error("history prune failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("pruned state history", "deleted", deleted)
			}
		}
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements nad.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements nad.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements nad.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// historyRecorderAdapter adapts the SQLite state history repository to the
// bridge's StateRecorder interface (map[string]any vs device.State).
type historyRecorderAdapter struct {
	repo *device.SQLiteStateHistoryRepository
}

// RecordStateChange implements nad.StateRecorder.
func (a *historyRecorderAdapter) RecordStateChange(ctx context.Context, deviceID string, state map[string]any, source string) error {
	return a.repo.RecordStateChange(ctx, deviceID, device.State(state), source)
}
