package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for PressBench Core.
type Config struct {
	Bench        BenchConfig        `yaml:"bench"`
	Logging      LoggingConfig      `yaml:"logging"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Reference    ReferenceConfig    `yaml:"reference"`
	Setup        SetupConfig        `yaml:"setup"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Calibration  CalibrationConfig  `yaml:"calibration"`
	Verification VerificationConfig `yaml:"verification"`
}

// BenchConfig identifies the bench and lists the devices in the batch.
type BenchConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Devices []string `yaml:"devices"` // device ids, in setup order
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker connection settings for event publishing.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains settings for the optional sweep recorder.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// ReferenceConfig contains serial settings for the reference pressure
// controller and the pacing of its line protocol.
type ReferenceConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`

	ReadTimeoutMillis  int `yaml:"read_timeout_ms"`
	PollIntervalMillis int `yaml:"poll_interval_ms"`
	TargetTimeoutSecs  int `yaml:"target_timeout"`
}

// SetupConfig bounds the per-device setup state machine.
type SetupConfig struct {
	ConnectTimeoutSecs   int `yaml:"connect_timeout"`
	DiscoveryTimeoutSecs int `yaml:"discovery_timeout"`
	SubscribeTimeoutSecs int `yaml:"subscribe_timeout"`

	MetadataRetries          int `yaml:"metadata_retries"`
	MetadataRetryDelayMillis int `yaml:"metadata_retry_delay_ms"`

	MaxAttempts            int `yaml:"max_attempts"`
	RetryDelaySecs         int `yaml:"retry_delay"`
	InterDeviceDelayMillis int `yaml:"inter_device_delay_ms"`
}

// MonitorConfig paces the connectivity monitor.
type MonitorConfig struct {
	IntervalSecs int `yaml:"interval"`
}

// CalibrationConfig bounds the three-point calibration sequencer.
type CalibrationConfig struct {
	SweepPressure float64 `yaml:"sweep_pressure"`

	CommandTimeoutSecs     int `yaml:"command_timeout"`
	CommandRetries         int `yaml:"command_retries"`
	InterDeviceDelayMillis int `yaml:"inter_device_delay_ms"`
	InterPhaseDelaySecs    int `yaml:"inter_phase_delay"`
}

// VerificationConfig bounds the verification sweep.
type VerificationConfig struct {
	MaxPressure            float64 `yaml:"max_pressure"`
	Tolerance              float64 `yaml:"tolerance"`
	StabilizationDelaySecs int     `yaml:"stabilization_delay"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is: defaults, then YAML file values, then PRESSBENCH_*
// environment variables, then validation.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults. Timings follow the
// bench procedure: they err on the side of slow instruments.
func defaultConfig() *Config {
	return &Config{
		Bench: BenchConfig{
			ID:   "bench-001",
			Name: "PressBench",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pressbench-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Reference: ReferenceConfig{
			Port:               "/dev/ttyUSB0",
			BaudRate:           9600,
			DataBits:           8,
			StopBits:           1,
			Parity:             "N",
			ReadTimeoutMillis:  2000,
			PollIntervalMillis: 500,
			TargetTimeoutSecs:  60,
		},
		Setup: SetupConfig{
			ConnectTimeoutSecs:       30,
			DiscoveryTimeoutSecs:     15,
			SubscribeTimeoutSecs:     5,
			MetadataRetries:          3,
			MetadataRetryDelayMillis: 1000,
			MaxAttempts:              3,
			RetryDelaySecs:           2,
			InterDeviceDelayMillis:   1500,
		},
		Monitor: MonitorConfig{
			IntervalSecs: 2,
		},
		Calibration: CalibrationConfig{
			SweepPressure:          250,
			CommandTimeoutSecs:     5,
			CommandRetries:         3,
			InterDeviceDelayMillis: 1000,
			InterPhaseDelaySecs:    2,
		},
		Verification: VerificationConfig{
			MaxPressure:            250,
			Tolerance:              1.5,
			StabilizationDelaySecs: 3,
		},
	}
}

// applyEnvOverrides applies PRESSBENCH_* environment variables on top of
// the file values. Only deployment-varying settings are overridable.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRESSBENCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PRESSBENCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PRESSBENCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("PRESSBENCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("PRESSBENCH_REFERENCE_PORT"); v != "" {
		cfg.Reference.Port = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Bench.ID == "" {
		errs = append(errs, "bench.id is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Reference.Port == "" {
		errs = append(errs, "reference.port is required")
	}
	if c.Reference.BaudRate <= 0 {
		errs = append(errs, "reference.baud_rate must be positive")
	}
	if c.Setup.MaxAttempts < 1 {
		errs = append(errs, "setup.max_attempts must be at least 1")
	}
	if c.Calibration.SweepPressure <= 0 {
		errs = append(errs, "calibration.sweep_pressure must be positive")
	}
	if c.Calibration.CommandRetries < 1 {
		errs = append(errs, "calibration.command_retries must be at least 1")
	}
	if c.Verification.MaxPressure <= 0 {
		errs = append(errs, "verification.max_pressure must be positive")
	}
	if c.Verification.Tolerance <= 0 {
		errs = append(errs, "verification.tolerance must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Duration helpers; YAML carries plain integers to keep hand-edited bench
// files unambiguous.

// GetConnectTimeout returns the per-device connect timeout.
func (c SetupConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// GetDiscoveryTimeout returns the endpoint discovery timeout.
func (c SetupConfig) GetDiscoveryTimeout() time.Duration {
	return time.Duration(c.DiscoveryTimeoutSecs) * time.Second
}

// GetSubscribeTimeout returns the stream subscription timeout.
func (c SetupConfig) GetSubscribeTimeout() time.Duration {
	return time.Duration(c.SubscribeTimeoutSecs) * time.Second
}

// GetMetadataRetryDelay returns the delay between metadata read attempts.
func (c SetupConfig) GetMetadataRetryDelay() time.Duration {
	return time.Duration(c.MetadataRetryDelayMillis) * time.Millisecond
}

// GetRetryDelay returns the delay between whole-device setup attempts.
func (c SetupConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// GetInterDeviceDelay returns the pacing delay between queued devices.
func (c SetupConfig) GetInterDeviceDelay() time.Duration {
	return time.Duration(c.InterDeviceDelayMillis) * time.Millisecond
}

// GetInterval returns the connectivity poll interval.
func (c MonitorConfig) GetInterval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// GetCommandTimeout returns the per-command timeout.
func (c CalibrationConfig) GetCommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSecs) * time.Second
}

// GetInterDeviceDelay returns the pacing delay between devices in a phase.
func (c CalibrationConfig) GetInterDeviceDelay() time.Duration {
	return time.Duration(c.InterDeviceDelayMillis) * time.Millisecond
}

// GetInterPhaseDelay returns the settle delay between calibration phases.
func (c CalibrationConfig) GetInterPhaseDelay() time.Duration {
	return time.Duration(c.InterPhaseDelaySecs) * time.Second
}

// GetStabilizationDelay returns the settle delay after the reference
// reaches each sweep target.
func (c VerificationConfig) GetStabilizationDelay() time.Duration {
	return time.Duration(c.StabilizationDelaySecs) * time.Second
}

// GetReadTimeout returns the serial read timeout.
func (c ReferenceConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMillis) * time.Millisecond
}

// GetPollInterval returns the at-target poll interval.
func (c ReferenceConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// GetTargetTimeout returns how long the reference may take to reach a
// setpoint.
func (c ReferenceConfig) GetTargetTimeout() time.Duration {
	return time.Duration(c.TargetTimeoutSecs) * time.Second
}
