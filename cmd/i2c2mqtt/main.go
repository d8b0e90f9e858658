// i2c2mqtt - reed contact bridge
//
// Polls MCP23017 GPIO expanders on an I2C bus and publishes every
// contact transition to an MQTT broker:
//
//	stat/<base>/CONTACT<n>  OPEN | CLOSED
//	tele/<base>/LWT         Online | Offline (retained)
//
// Exit status is 1 when the broker cannot be reached after the reconnect
// budget, when a bus read fails, or when startup fails.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/i2c2mqtt/internal/api"
	"github.com/nerrad567/i2c2mqtt/internal/contact"
	"github.com/nerrad567/i2c2mqtt/internal/expander"
	"github.com/nerrad567/i2c2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/i2c2mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/i2c2mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/i2c2mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/i2c2mqtt/internal/metrics"
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

// openBus is replaced in tests.
var openBus = expander.OpenBus

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "i2c2mqtt",
		Usage:   "publish MCP23017 reed contact transitions to MQTT",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"I2C2MQTT_CONFIG"},
				Value:   defaultConfigPath,
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, c.String("config"))
		},
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting i2c2mqtt",
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

	// Open the I2C bus and configure every expander as pulled-up inputs
	bus, err := openBus(cfg.Bus.Name)
	if err != nil {
		return fmt.Errorf("opening I2C bus: %w", err)
	}
	defer func() {
		log.Info("closing I2C bus")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing I2C bus", "error", closeErr)
		}
	}()

	source, err := expander.NewSource(bus, cfg.Bus.Addresses, expander.RetryPolicy{
		Retries: cfg.Poll.ReadRetries,
		Delay:   cfg.GetReadRetryDelay(),
	})
	if err != nil {
		return fmt.Errorf("creating input source: %w", err)
	}
	source.SetLogger(log)

	if err := source.Configure(); err != nil {
		return fmt.Errorf("configuring expanders: %w", err)
	}
	log.Info("expanders configured",
		"bus", cfg.Bus.Name,
		"devices", len(cfg.Bus.Addresses),
		"channels", source.Len()*8,
	)

	// Connect to MQTT broker
	session, err := mqtt.Open(ctx, cfg.MQTT, log)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		session.Close()
	}()
	session.SetOnConnect(func() {
		log.Info("MQTT reconnected", "presence_topic", mqtt.LWTTopic(cfg.MQTT.BaseTopic))
	})
	session.SetOnDisconnect(func(err error) {
		log.Warn("MQTT connection lost", "error", err)
	})

	opts := contact.Options{
		BaseTopic: cfg.MQTT.BaseTopic,
		Interval:  cfg.GetPollInterval(),
		Source:    source,
		Publisher: session,
		Logger:    log,
	}
	checks := []api.Check{{Name: "mqtt", Check: session}}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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

		opts.Recorder = influxClient
		checks = append(checks, api.Check{Name: "influxdb", Check: influxClient})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Serve /metrics and /health (optional)
	if cfg.Metrics.Enabled {
		registry := metrics.NewRegistry()
		registry.RegisterSession(session)
		opts.Metrics = registry

		server, srvErr := api.New(api.Deps{
			Listen:  cfg.Metrics.Listen,
			Metrics: registry.Handler(),
			Checks:  checks,
			Logger:  log,
			Version: version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating status server: %w", srvErr)
		}
		if startErr := server.Start(); startErr != nil {
			return fmt.Errorf("starting status server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
	} else {
		log.Info("metrics disabled")
	}

	poller, err := contact.NewPoller(opts)
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}

	log.Info("initialisation complete, polling",
		"interval", cfg.GetPollInterval(),
		"base_topic", cfg.MQTT.BaseTopic,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		return watchSession(gctx, session)
	})

	if err := g.Wait(); err != nil {
		log.Error("terminating", "error", err)
		return err
	}

	// Deferred closers run in reverse order: status server, InfluxDB,
	// MQTT (graceful Offline), I2C bus.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// watchSession returns the session's terminal error, or nil on shutdown.
func watchSession(ctx context.Context, session *mqtt.Session) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-session.Failed():
		return fmt.Errorf("mqtt session: %w", err)
	}
}
