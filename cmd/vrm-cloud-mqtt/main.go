// vrm-cloud-mqtt - Victron VRM cloud to MQTT bridge
//
// This is the main entry point of the bridge. It polls the diagnostics of
// one VRM installation on a fixed interval and republishes every metric as
// an MQTT topic under <prefix>/<site>/<device>/<metric>.
//
// Usage:
//
//	vrm-cloud-mqtt [--config path] [--env-file path] [--debug]
//
// Exit status is 0 after a shutdown signal and 1 when the site is unusable,
// the account is refused at startup, or initialisation fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/vrm-cloud-mqtt/migrations"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/api"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/auth"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/bridge"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/credential"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/database"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/poller"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/vrm"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path. A missing default file is not an error.
const defaultConfigPath = "configs/config.yaml"

// options are the parsed command-line flags.
type options struct {
	configPath     string
	configOptional bool
	envFile        string
	debug          bool
	showVersion    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("vrm-cloud-mqtt %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args (without the program name).
func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("vrm-cloud-mqtt", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file")
	fs.StringVar(&opts.envFile, "env-file", ".env", "path to a dotenv file with VRM_* variables")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	// Only an explicitly named file has to exist.
	opts.configOptional = !fs.Changed("config") && os.Getenv("VRM_CONFIG") == ""
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses VRM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VRM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command-line flags
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting vrm-cloud-mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath, opts.envFile, opts.configOptional)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.debug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"site_id", cfg.VRM.SiteID,
		"interval", cfg.PollInterval(),
		"token_mode", cfg.VRM.TokenMode,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
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
	status, statusErr := db.MigrationStatus(ctx)
	if statusErr != nil {
		return fmt.Errorf("reading migration status: %w", statusErr)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations", len(status.Applied))

	store := newCredentialStore(cfg, db, log.With("component", "credential"))

	vrmClient := vrm.NewClient(vrm.Config{
		BaseURL:   cfg.VRM.BaseURL,
		Timeout:   cfg.RequestTimeout(),
		UserAgent: "vrm-cloud-mqtt/" + version,
	})

	authClient := auth.NewClient(vrmClient, store, auth.Config{
		Username:        cfg.VRM.Username,
		Password:        cfg.VRM.Password,
		TokenName:       cfg.VRM.TokenName,
		Mode:            credential.Kind(cfg.VRM.TokenMode),
		RevokeDuplicate: cfg.VRM.RevokeDuplicateToken,
	})
	authClient.SetLogger(log.With("component", "auth"))

	sitePoller := poller.New(vrmClient)
	sitePoller.SetLogger(log.With("component", "poller"))

	// A broker that is down at startup is retried by every publish.
	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log.With("component", "mqtt"))
	if connErr := mqttClient.Connect(); connErr != nil {
		log.Warn("MQTT broker not reachable, will retry on publish", "broker", mqttClient.Broker(), "error", connErr)
	} else {
		log.Info("MQTT connected",
			"broker", mqttClient.Broker(),
			"client_id", cfg.MQTT.Broker.ClientID,
			"status_topic", mqttClient.StatusTopic(),
		)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	// Connect to InfluxDB (optional)
	var (
		influxClient *influxdb.Client
		sinks        []bridge.Sink
		mirror       api.MirrorStatus
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		sinks = append(sinks, influxClient)
		mirror = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	journal := bridge.NewSQLiteJournal(db.DB, cfg.Database.JournalRetention)

	scheduler := bridge.NewScheduler(bridge.Config{
		SiteID:       cfg.VRM.SiteID,
		Prefix:       cfg.MQTT.Topic,
		QoS:          byte(cfg.MQTT.QoS), //nolint:gosec // validated 0..2
		Retain:       cfg.MQTT.Retain,
		Interval:     cfg.PollInterval(),
		MaxBackoff:   cfg.MaxBackoff(),
		CycleTimeout: cfg.CycleTimeout(),
	}, bridge.Deps{
		Store:     store,
		Auth:      authClient,
		Poller:    sitePoller,
		Publisher: mqttClient,
		Sinks:     sinks,
		Journal:   journal,
	})
	scheduler.SetLogger(log.With("component", "scheduler"))

	// Start status API (optional)
	if cfg.API.Enabled {
		statusServer, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			Logger:    log.With("component", "api"),
			Scheduler: scheduler,
			MQTT:      mqttClient,
			Journal:   journal,
			DB:        db.DB,
			Mirror:    mirror,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := statusServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := statusServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, polling")

	if err := scheduler.Run(ctx); err != nil {
		return err
	}

	// Deferred Close() calls run in reverse order: API, InfluxDB, MQTT, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// newCredentialStore returns the configured credential cache.
func newCredentialStore(cfg *config.Config, db *database.DB, log credential.Logger) credential.Store {
	switch cfg.Cache.Backend {
	case config.CacheBackendSQLite:
		s := credential.NewSQLiteStore(db.DB)
		s.SetLogger(log)
		return s
	default:
		s := credential.NewFileStore(cfg.Cache.Path, cfg.Cache.Passphrase)
		s.SetLogger(log)
		return s
	}
}

// healthCheck verifies the infrastructure the first cycle depends on.
//
// The broker is not checked: it may come up after the bridge.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
