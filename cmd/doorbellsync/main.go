// Doorbell Sync - doorbell state reconciliation daemon.
//
// This is the main entry point. It polls the doorbell provider through the
// MQTT gateway, reconciles each registered device into the local store and
// republishes changes over MQTT, WebSocket and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/doorbell-sync/migrations"

	"github.com/nerrad567/doorbell-sync/internal/api"
	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/engine"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/config"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/database"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/influxdb"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/logging"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/doorbell-sync/internal/provider"
	"github.com/nerrad567/doorbell-sync/internal/reconcile"
	"github.com/nerrad567/doorbell-sync/internal/updater"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup wiring is sequential by nature
	log := logging.Default()
	log.Info("starting doorbell-sync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "device"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	history := device.NewSQLiteStateHistoryRepository(db.DB)
	registry.AddChangeListener(device.HistoryListener(history, log.With("component", "history")))

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
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	gateway := provider.NewGateway(mqttClient, cfg.Provider)
	gateway.SetLogger(log.With("component", "provider"))
	if startErr := gateway.Start(); startErr != nil {
		return fmt.Errorf("starting provider gateway: %w", startErr)
	}
	defer func() {
		if stopErr := gateway.Stop(); stopErr != nil {
			log.Error("error stopping provider gateway", "error", stopErr)
		}
	}()
	log.Info("provider gateway started", "topic_prefix", cfg.Provider.TopicPrefix)

	reconciler := reconcile.New(gateway, registry)
	reconciler.SetLogger(log.With("component", "reconcile"))
	if influxClient != nil {
		reconciler.SetTelemetry(influxClient)
	}

	eng := engine.New(gateway, registry, log.With("component", "engine"))
	eng.SetCommandTimeout(cfg.Provider.RequestTimeout)
	registry.AddChangeListener(engine.StatePublisher(mqttClient, registry, log.With("component", "publish")))

	sup := newSupervisor(registry, reconciler, eng, cfg.Poll, log.With("component", "poll"))
	sup.checker = updater.New(cfg.Updater, log.With("component", "updater"))
	if influxClient != nil {
		sup.metrics = influxClient
	}

	// Login before the first cycle so the scheduler starts with the
	// right auth flag. A failure is logged and polling stays suspended
	// until a login on doorbellsync/core/login or the API succeeds.
	if loginErr := eng.Login(ctx, false); loginErr != nil {
		log.Warn("continuing without provider session", "error", loginErr)
	}

	if subErr := eng.Subscribe(mqttClient, mqttClient.QoS()); subErr != nil {
		return fmt.Errorf("subscribing to command topics: %w", subErr)
	}

	if cfg.API.Enabled {
		apiLog := log.With("component", "api")
		hub := api.NewHub(cfg.WebSocket, registry, apiLog)
		go hub.Run(ctx)
		registry.AddChangeListener(engine.HubListener(hub))

		checks := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
			"provider": gateway,
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}

		server, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    apiLog,
			Registry:  registry,
			Engine:    eng,
			Scheduler: sup,
			History:   history,
			Hub:       hub,
			Checks:    checks,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if retention := cfg.HistoryRetention(); retention > 0 {
		go runMaintenance(ctx, history, retention, log.With("component", "maintenance"))
	}

	log.Info("initialisation complete")

	if err := sup.run(ctx); err != nil {
		return fmt.Errorf("poll supervisor: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DOORBELLSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DOORBELLSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInflux connects to InfluxDB when enabled. A nil client with a nil
// error means telemetry is off.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}
