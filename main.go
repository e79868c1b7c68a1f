// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gerritdv/edge-sensing/app"
	"github.com/gerritdv/edge-sensing/config"
	"github.com/gerritdv/edge-sensing/gpio"
	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/upload"
)

const (
	healthCheckTimeout = 5 * time.Second
	uploadOnceTimeout  = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-port", "9090", "Port for Prometheus metrics endpoint")
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	uploadOnce := flag.Bool("upload-once", false, "Upload the undelivered backlog once and exit")
	gpioDiag := flag.Bool("gpio-diag", false, "Probe GPIO lines across chips and exit")
	flag.Parse()

	if *gpioDiag {
		os.Exit(performGPIODiag())
	}

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error", "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level, cfg.Logging.File)

	logger.Info().Msg("Starting edge sensing node")
	logger.Info().Str("device_id", cfg.DeviceID).
		Dur("sampling_period", cfg.Sampling.Period).
		Dur("upload_period", cfg.Upload.Period).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *metricsPort, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	if *uploadOnce {
		os.Exit(performUploadOnce(application))
	}

	setupDebugSignalHandlers(application)
	application.Run()
}

// performUploadOnce drains the local backlog in a single pass.
func performUploadOnce(application *app.App) int {
	ctx, cancel := context.WithTimeout(context.Background(), uploadOnceTimeout)
	defer cancel()

	delivered, err := application.UploadOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		return 1
	}
	fmt.Printf("Uploaded %d unit(s)\n", delivered)
	return 0
}

// performGPIODiag probes the default diagnostic lines on every
// character-device chip and reports which can be claimed.
func performGPIODiag() int {
	logger.Initialize("info", "")
	gpio.WriteProbeReport(os.Stdout, nil)
	return 0
}

// performHealthCheck performs a health check and returns exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}

	if cfg.InfluxDB.URL == "" {
		fmt.Println("Health check passed: no remote sink configured")
		return 0
	}

	sink, err := upload.NewInfluxDBSink(
		cfg.InfluxDB.URL,
		cfg.InfluxDB.Token,
		cfg.InfluxDB.Organization,
		cfg.InfluxDB.Bucket,
		cfg.InfluxDB.Measurement,
		cfg.DeviceID,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not create InfluxDB client: %v\n", err)
		return 1
	}
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := sink.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: InfluxDB is unhealthy: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: InfluxDB is healthy")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string) int {
	logger.Initialize("info", "")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Println("\n✅ Configuration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Device ID: %s\n", cfg.DeviceID)
	fmt.Printf("  Sampling Period: %s (align: %t)\n", cfg.Sampling.Period, cfg.Sampling.Align)
	fmt.Printf("  Storage Directory: %s\n", cfg.Storage.Dir)
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Analog Devices: %d\n", len(cfg.Analog.Devices))
	if cfg.Pulses.Enabled {
		fmt.Printf("  Pulse Lines: %d (backends: %v)\n", len(cfg.Pulses.Lines), cfg.Pulses.Backends)
	} else {
		fmt.Println("  Pulse Counting: Disabled")
	}
	fmt.Printf("  Upload Period: %s\n", cfg.Upload.Period)

	if cfg.InfluxDB.URL != "" {
		fmt.Printf("  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
		fmt.Printf("  InfluxDB Organization: %s\n", cfg.InfluxDB.Organization)
		fmt.Printf("  InfluxDB Bucket: %s\n", cfg.InfluxDB.Bucket)
		fmt.Printf("  InfluxDB Measurement: %s\n", cfg.InfluxDB.Measurement)
	} else {
		fmt.Println("  Remote Sink: Disabled (records stay local)")
	}

	if cfg.Telemetry.Enabled {
		fmt.Printf("  Telemetry: Enabled (broker %s)\n", cfg.Telemetry.Broker)
	} else {
		fmt.Println("  Telemetry: Disabled")
	}

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
