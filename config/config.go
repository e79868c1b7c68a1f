// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the edge sensing node.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	DeviceID  string          `yaml:"device_id" validate:"required,hostname_rfc1123"`
	Sampling  SamplingConfig  `yaml:"sampling"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Analog    AnalogConfig    `yaml:"analog"`
	Pulses    PulseConfig     `yaml:"pulses"`
	Upload    UploadConfig    `yaml:"upload"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LED       LEDConfig       `yaml:"led"`
}

// SamplingConfig controls the collector loop
type SamplingConfig struct {
	Period time.Duration `yaml:"period"`
	Align  bool          `yaml:"align"`
}

// LoggingConfig holds logging settings. File is optional; when set the
// log stream is duplicated to that file.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// StorageConfig holds local record storage settings
type StorageConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// AnalogConfig holds ADC reader settings
type AnalogConfig struct {
	ReadTimeout time.Duration        `yaml:"read_timeout"`
	Devices     []AnalogDeviceConfig `yaml:"devices" validate:"dive"`
}

// AnalogDeviceConfig describes one ADC chip
type AnalogDeviceConfig struct {
	Name       string                `yaml:"name" validate:"required"`
	Driver     string                `yaml:"driver" validate:"oneof=ads1115 sim"`
	Bus        string                `yaml:"bus"`
	Address    uint16                `yaml:"address"`
	Gain       float64               `yaml:"gain"`
	SampleRate int                   `yaml:"sample_rate"`
	Channels   []AnalogChannelConfig `yaml:"channels" validate:"min=1,dive"`
}

// AnalogChannelConfig describes one mux input on an ADC
type AnalogChannelConfig struct {
	Name   string  `yaml:"name" validate:"required"`
	Input  int     `yaml:"input" validate:"min=0,max=3"`
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

// PulseConfig holds GPIO pulse counting settings
type PulseConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Backends     []string          `yaml:"backends"`
	Skip         []string          `yaml:"skip"`
	ChipPriority []int             `yaml:"chip_priority"`
	Lines        []PulseLineConfig `yaml:"lines" validate:"dive"`
}

// PulseLineConfig describes one input line
type PulseLineConfig struct {
	Name     string        `yaml:"name" validate:"required"`
	Line     int           `yaml:"line" validate:"min=0"`
	Edge     string        `yaml:"edge" validate:"omitempty,oneof=falling rising"`
	Pull     string        `yaml:"pull" validate:"omitempty,oneof=up down none"`
	Debounce time.Duration `yaml:"debounce"`
}

// UploadConfig holds upload manager settings
type UploadConfig struct {
	Period         time.Duration `yaml:"period"`
	Timeout        time.Duration `yaml:"timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// InfluxDBConfig holds InfluxDB connection settings
type InfluxDBConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
	Measurement  string `yaml:"measurement"`
}

// TelemetryConfig holds MQTT telemetry settings
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LEDConfig holds status LED settings
type LEDConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides and defaults
	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	// Validate configuration
	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	if id := os.Getenv("DEVICE_ID"); id != "" {
		c.DeviceID = id
	}
	if dir := os.Getenv("STORAGE_DIR"); dir != "" {
		c.Storage.Dir = dir
	}
	if url := os.Getenv("INFLUXDB_URL"); url != "" {
		c.InfluxDB.URL = url
	}
	if token := os.Getenv("INFLUXDB_TOKEN"); token != "" {
		c.InfluxDB.Token = token
	}
	if org := os.Getenv("INFLUXDB_ORG"); org != "" {
		c.InfluxDB.Organization = org
	}
	if bucket := os.Getenv("INFLUXDB_BUCKET"); bucket != "" {
		c.InfluxDB.Bucket = bucket
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.Telemetry.Broker = broker
	}
	if password := os.Getenv("MQTT_PASSWORD"); password != "" {
		c.Telemetry.Password = password
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if period := os.Getenv("SAMPLING_PERIOD"); period != "" {
		duration, parseErr := time.ParseDuration(period)
		if parseErr == nil {
			c.Sampling.Period = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse SAMPLING_PERIOD '%s': %v\n", period, parseErr)
		}
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Sampling.Period == 0 {
		c.Sampling.Period = time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Analog.ReadTimeout == 0 {
		c.Analog.ReadTimeout = 5 * time.Second
	}
	for i := range c.Analog.Devices {
		dev := &c.Analog.Devices[i]
		if dev.Driver == "" {
			dev.Driver = "ads1115"
		}
		if dev.Bus == "" {
			dev.Bus = "1"
		}
		if dev.Address == 0 {
			dev.Address = 0x48
		}
		if dev.Gain == 0 {
			dev.Gain = 1
		}
		if dev.SampleRate == 0 {
			dev.SampleRate = 128
		}
	}
	if len(c.Pulses.Backends) == 0 {
		c.Pulses.Backends = []string{"cdev", "periph"}
	}
	for i := range c.Pulses.Lines {
		line := &c.Pulses.Lines[i]
		if line.Edge == "" {
			line.Edge = "falling"
		}
		if line.Pull == "" {
			line.Pull = "up"
		}
		if line.Debounce == 0 {
			line.Debounce = 5 * time.Millisecond
		}
	}
	if c.Upload.Period == 0 {
		c.Upload.Period = 5 * time.Minute
	}
	if c.Upload.Timeout == 0 {
		c.Upload.Timeout = 30 * time.Second
	}
	if c.Upload.InitialBackoff == 0 {
		c.Upload.InitialBackoff = 30 * time.Second
	}
	if c.Upload.MaxBackoff == 0 {
		c.Upload.MaxBackoff = 30 * time.Minute
	}
	if c.InfluxDB.Measurement == "" {
		c.InfluxDB.Measurement = "sensor_sample"
	}
	if c.Telemetry.ClientID == "" {
		c.Telemetry.ClientID = c.DeviceID
	}
	if c.Telemetry.Topic == "" && c.DeviceID != "" {
		c.Telemetry.Topic = "edge-sensing/" + c.DeviceID
	}
	if c.LED.Name == "" {
		c.LED.Name = "ACT"
	}
}

// Validate checks if the configuration is valid. Struct tags cover the
// per-field rules; the rest is cross-field.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if validateErr := c.validateSampling(); validateErr != nil {
		return validateErr
	}
	if validateErr := c.validateAnalog(); validateErr != nil {
		return validateErr
	}
	if validateErr := c.validatePulses(); validateErr != nil {
		return validateErr
	}
	if validateErr := c.validateUpload(); validateErr != nil {
		return validateErr
	}
	if validateErr := c.validateInfluxDB(); validateErr != nil {
		return validateErr
	}
	if validateErr := c.validateTelemetry(); validateErr != nil {
		return validateErr
	}
	if validateErr := c.validateLogging(); validateErr != nil {
		return validateErr
	}

	return nil
}

func (c *Config) validateSampling() error {
	if c.Sampling.Period < time.Second {
		return fmt.Errorf("sampling.period must be at least 1 second")
	}
	if c.Sampling.Period > 24*time.Hour {
		return fmt.Errorf("sampling.period must not exceed 24 hours")
	}
	if c.Sampling.Align && 24*time.Hour%c.Sampling.Period != 0 {
		return fmt.Errorf("sampling.align requires a period that divides a day evenly")
	}
	return nil
}

// validateAnalog checks the ADC tree for rules the struct tags cannot
// express: unique names across devices, and gains/debounces within the
// hardware's supported range.
func (c *Config) validateAnalog() error {
	// Any gain below 1 selects the 2/3 PGA setting, so fractional
	// approximations of 2/3 are accepted as written.
	validGains := map[float64]bool{1: true, 2: true, 4: true, 8: true, 16: true}
	validRates := map[int]bool{8: true, 16: true, 32: true, 64: true, 128: true, 250: true, 475: true, 860: true}

	deviceNames := make(map[string]bool)
	channelNames := make(map[string]bool)
	for _, dev := range c.Analog.Devices {
		if deviceNames[dev.Name] {
			return fmt.Errorf("analog device name %q is used more than once", dev.Name)
		}
		deviceNames[dev.Name] = true

		fractional := dev.Gain > 0 && dev.Gain < 1
		if !fractional && !validGains[dev.Gain] {
			return fmt.Errorf("analog.devices[%s].gain must be one of 2/3, 1, 2, 4, 8, 16", dev.Name)
		}
		if !validRates[dev.SampleRate] {
			return fmt.Errorf("analog.devices[%s].sample_rate must be one of 8, 16, 32, 64, 128, 250, 475, 860", dev.Name)
		}

		inputs := make(map[int]bool)
		for _, ch := range dev.Channels {
			if channelNames[ch.Name] {
				return fmt.Errorf("analog channel name %q is used more than once", ch.Name)
			}
			channelNames[ch.Name] = true
			if inputs[ch.Input] {
				return fmt.Errorf("analog.devices[%s] uses input %d more than once", dev.Name, ch.Input)
			}
			inputs[ch.Input] = true
		}
	}
	return nil
}

func (c *Config) validatePulses() error {
	if !c.Pulses.Enabled {
		return nil
	}
	if len(c.Pulses.Lines) == 0 {
		return fmt.Errorf("pulses.enabled is set but pulses.lines is empty")
	}

	names := make(map[string]bool)
	lines := make(map[int]bool)
	for _, line := range c.Pulses.Lines {
		if names[line.Name] {
			return fmt.Errorf("pulse line name %q is used more than once", line.Name)
		}
		names[line.Name] = true
		if lines[line.Line] {
			return fmt.Errorf("gpio line %d is claimed by more than one counter", line.Line)
		}
		lines[line.Line] = true
		if line.Debounce > time.Second {
			return fmt.Errorf("pulses.lines[%s].debounce must not exceed 1 second", line.Name)
		}
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.Period < time.Second {
		return fmt.Errorf("upload.period must be at least 1 second")
	}
	if c.Upload.Timeout < time.Second {
		return fmt.Errorf("upload.timeout must be at least 1 second")
	}
	if c.Upload.InitialBackoff > c.Upload.MaxBackoff {
		return fmt.Errorf("upload.initial_backoff must not exceed upload.max_backoff")
	}
	return nil
}

// validateInfluxDB validates the remote sink settings. The sink is
// optional: with no URL the node records locally and never uploads.
func (c *Config) validateInfluxDB() error {
	if c.InfluxDB.URL == "" {
		return nil
	}

	parsedURL, parseErr := url.Parse(c.InfluxDB.URL)
	if parseErr != nil {
		return fmt.Errorf("influxdb.url is not a valid URL: %w", parseErr)
	}
	if securityErr := validateURLSecurity("influxdb.url", parsedURL); securityErr != nil {
		return securityErr
	}

	if c.InfluxDB.Token == "" {
		return fmt.Errorf("influxdb.token is required when influxdb.url is set")
	}
	if len(c.InfluxDB.Token) < 8 {
		return fmt.Errorf("influxdb.token must be at least 8 characters long")
	}
	if c.InfluxDB.Organization == "" {
		return fmt.Errorf("influxdb.organization is required when influxdb.url is set")
	}
	if c.InfluxDB.Bucket == "" {
		return fmt.Errorf("influxdb.bucket is required when influxdb.url is set")
	}

	return nil
}

func (c *Config) validateTelemetry() error {
	if !c.Telemetry.Enabled {
		return nil
	}
	if c.Telemetry.Broker == "" {
		return fmt.Errorf("telemetry.broker is required when telemetry.enabled is set")
	}
	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(field string, parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("%s must use HTTPS for non-local connections (got %s). Using HTTP transmits credentials in plaintext and is a security risk", field, parsedURL.Scheme)
	}

	return nil
}

// validateLogging validates the logging configuration
func (c *Config) validateLogging() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true,
		"warning": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, fatal, panic")
	}

	return nil
}
