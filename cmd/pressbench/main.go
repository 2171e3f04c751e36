// PressBench Core - Pressure Sensor Calibration Bench
//
// This is the main entry point for the PressBench Core service. The bench
// coordinates setup, connectivity monitoring, three-point calibration and
// verification sweeps for a batch of wireless pressure sensors against a
// wired precision reference controller. Operators drive it over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pressbench/pressbench-core/internal/calibration"
	"github.com/pressbench/pressbench-core/internal/device"
	"github.com/pressbench/pressbench-core/internal/events"
	"github.com/pressbench/pressbench-core/internal/events/mqttnotify"
	"github.com/pressbench/pressbench-core/internal/infrastructure/config"
	"github.com/pressbench/pressbench-core/internal/infrastructure/influxdb"
	"github.com/pressbench/pressbench-core/internal/infrastructure/logging"
	"github.com/pressbench/pressbench-core/internal/infrastructure/mqtt"
	"github.com/pressbench/pressbench-core/internal/monitor"
	"github.com/pressbench/pressbench-core/internal/reference"
	"github.com/pressbench/pressbench-core/internal/setup"
	"github.com/pressbench/pressbench-core/internal/transport/gatt"
	"github.com/pressbench/pressbench-core/internal/verification"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PressBench Core",
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

	mqttClient.SetLogger(log)
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

	// Event fan-out: MQTT consumers get every bench event as JSON.
	notifier := events.Multi{mqttnotify.New(mqttClient, log)}

	// Open the reference controller's serial port
	controller, err := reference.Open(cfg.Reference, log.With("component", "reference"))
	if err != nil {
		return fmt.Errorf("opening reference controller: %w", err)
	}
	defer func() {
		log.Info("closing reference controller")
		if closeErr := controller.Close(); closeErr != nil {
			log.Error("error closing reference controller", "error", closeErr)
		}
	}()
	log.Info("reference controller connected", "port", cfg.Reference.Port)

	// Initialise the host radio
	central, err := gatt.NewCentral(log.With("component", "gatt"))
	if err != nil {
		return fmt.Errorf("initialising gatt central: %w", err)
	}
	defer func() {
		log.Info("closing gatt central")
		if closeErr := central.Close(); closeErr != nil {
			log.Error("error closing gatt central", "error", closeErr)
		}
	}()

	// Device registry and engines
	registry := device.NewRegistry()
	registry.SetLogger(log)

	orchestrator := setup.New(registry, central, notifier, cfg.Setup, log.With("component", "setup"))
	if influxClient != nil {
		orchestrator.SetReadingSink(influxClient)
	}

	mon := monitor.New(registry, notifier, cfg.Monitor, log.With("component", "monitor"))
	mon.Start(ctx)
	defer mon.Stop()
	log.Info("connectivity monitor started", "interval_secs", cfg.Monitor.IntervalSecs)

	sequencer := calibration.New(registry, controller, notifier, cfg.Calibration, log.With("component", "calibration"))
	sequencer.SetPauser(orchestrator)

	var recorder verification.Recorder
	if influxClient != nil {
		recorder = influxClient
	}
	sweeper := verification.New(registry, controller, notifier, recorder, cfg.Verification, log.With("component", "verification"))

	// Operator command surface
	b := &bench{
		cfg:          cfg,
		orchestrator: orchestrator,
		sequencer:    sequencer,
		sweeper:      sweeper,
		log:          log,
	}
	if err := b.listen(ctx, mqttClient); err != nil {
		return fmt.Errorf("subscribing to command topics: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"bench", cfg.Bench.ID,
		"devices", len(cfg.Bench.Devices),
	)

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	sequencer.Stop()
	sweeper.Stop()

	log.Info("PressBench Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PRESSBENCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PRESSBENCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bench routes operator MQTT commands to the engines. Every run executes in
// its own goroutine; the engines' own guards reject overlapping runs.
type bench struct {
	cfg          *config.Config
	orchestrator *setup.Orchestrator
	sequencer    *calibration.Sequencer
	sweeper      *verification.Sweeper
	log          *logging.Logger
}

func (b *bench) listen(ctx context.Context, client *mqtt.Client) error {
	topics := mqtt.Topics{}
	qos := byte(b.cfg.MQTT.QoS)

	if err := client.Subscribe(topics.Command("setup"), qos, b.handleSetup(ctx)); err != nil {
		return err
	}
	if err := client.Subscribe(topics.Command("calibration"), qos, b.handleCalibration(ctx)); err != nil {
		return err
	}
	return client.Subscribe(topics.Command("verification"), qos, b.handleVerification(ctx))
}

func (b *bench) handleSetup(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		switch action(payload) {
		case "start":
			seeds := make([]device.Seed, 0, len(b.cfg.Bench.Devices))
			for _, id := range b.cfg.Bench.Devices {
				seeds = append(seeds, device.Seed{ID: id})
			}
			go func() {
				if err := b.orchestrator.Run(ctx, seeds); err != nil {
					b.log.Error("setup run failed", "error", err)
				}
			}()
		case "pause":
			b.orchestrator.Pause()
		case "resume":
			b.orchestrator.Resume()
		default:
			b.log.Warn("unknown setup command", "topic", topic, "payload", string(payload))
		}
		return nil
	}
}

func (b *bench) handleCalibration(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		switch action(payload) {
		case "start":
			go func() {
				if err := b.sequencer.Run(ctx); err != nil {
					b.log.Error("calibration run failed", "error", err)
				}
			}()
		case "stop":
			b.sequencer.Stop()
		default:
			b.log.Warn("unknown calibration command", "topic", topic, "payload", string(payload))
		}
		return nil
	}
}

func (b *bench) handleVerification(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		switch action(payload) {
		case "start":
			go func() {
				results, err := b.sweeper.Run(ctx)
				if err != nil {
					b.log.Error("verification run failed", "error", err)
					return
				}
				for _, r := range results {
					b.log.Info("certification",
						"device", r.DeviceID,
						"certified", r.Certified,
						"avg_discrepancy", r.AverageDiscrepancy,
					)
				}
			}()
		case "stop":
			b.sweeper.Stop()
		default:
			b.log.Warn("unknown verification command", "topic", topic, "payload", string(payload))
		}
		return nil
	}
}

// action normalises an operator command payload.
func action(payload []byte) string {
	return strings.ToLower(strings.TrimSpace(string(payload)))
}
