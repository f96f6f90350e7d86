package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/api"
	"github.com/nerrad567/purrsong-bridge/internal/discovery"
	"github.com/nerrad567/purrsong-bridge/internal/history"
	"github.com/nerrad567/purrsong-bridge/internal/host"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/config"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/database"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
)

// shutdownTimeout bounds unloading every account on exit.
const shutdownTimeout = 15 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge daemon",
		Long: `Run loads every configured account, polls the PurrSong cloud on the
configured interval and publishes the results until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.resolveConfigPath())
		},
	}
}

// run is the daemon, separated from the command for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PurrSong bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	gateway := gatewayOptions(cfg)
	repo := account.NewSQLiteRepository(db.DB)
	flow, err := account.NewFlow(account.FlowOptions{
		Repository: repo,
		Validate:   account.NewValidator(gateway),
		Logger:     log.Component("account"),
	})
	if err != nil {
		return fmt.Errorf("creating account flow: %w", err)
	}

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
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	publisher := discovery.NewPublisher(mqttClient, discovery.Options{
		Topics:  mqttClient.Topics(),
		QoS:     byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0..2
		Version: version,
		Logger:  log,
	})
	if err := publisher.Start(); err != nil {
		return fmt.Errorf("starting discovery publisher: %w", err)
	}
	observers := []host.Observer{publisher}

	// Connect to InfluxDB (optional)
	influxClient, err := connectInflux(cfg, log)
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
		observers = append(observers, history.NewRecorder(influxClient, log))
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		go hub.Run(ctx)
		observers = append(observers, hub)
	}

	manager, err := host.New(host.Options{
		Repository:          repo,
		NewSession:          lavviebot.SessionFactory(gateway),
		Flow:                flow,
		Interval:            cfg.Lavviebot.PollInterval,
		Timeout:             cfg.Lavviebot.RequestTimeout,
		MaxRateLimitRetries: cfg.Lavviebot.MaxRateLimitRetries,
		SetupRetryDelay:     cfg.Lavviebot.SetupRetryDelay,
		Observers:           observers,
		Logger:              log,
	})
	if err != nil {
		return fmt.Errorf("creating host: %w", err)
	}
	flow.SetHost(manager)

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Accounts: repo,
			Flow:     flow,
			Host:     manager,
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting accounts: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := manager.Close(closeCtx); closeErr != nil && !errors.Is(closeErr, host.ErrClosed) {
			log.Error("error stopping accounts", "error", closeErr)
		}
	}()
	log.Info("initialisation complete, waiting for shutdown signal",
		"accounts", len(manager.Instances()),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Accounts (observers publish offline)
	// 2. API server
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("PurrSong bridge stopped")
	return nil
}

// connectInflux connects when InfluxDB is enabled and returns nil otherwise.
func connectInflux(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // Disabled is not an error
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
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

	return nil
}
