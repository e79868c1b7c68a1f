// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/gerritdv/edge-sensing/analog"
	"github.com/gerritdv/edge-sensing/collector"
	"github.com/gerritdv/edge-sensing/config"
	"github.com/gerritdv/edge-sensing/gpio"
	"github.com/gerritdv/edge-sensing/led"
	"github.com/gerritdv/edge-sensing/pkg/interfaces"
	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/pulse"
	"github.com/gerritdv/edge-sensing/storage"
	"github.com/gerritdv/edge-sensing/telemetry"
	"github.com/gerritdv/edge-sensing/upload"
)

const (
	signalChannelSize     = 1
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// App represents the main application
type App struct {
	cfg         *config.Config
	metricsPort string
	server      *http.Server

	store    *storage.Store
	selector *gpio.Selector
	counters []*pulse.Counter
	analog   *analog.Manager
	tel      interfaces.Telemetry
	led      *led.StatusLED
	sink     interfaces.RemoteSink
	uploader *upload.Manager

	configWatcher *config.Watcher
	configChan    chan *config.Config

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new application instance
func New(cfg *config.Config, metricsPort string, configPath string) (*App, error) {
	app := &App{
		cfg:         cfg,
		metricsPort: metricsPort,
		configChan:  make(chan *config.Config, 1),
	}

	if err := app.initializeComponents(); err != nil {
		app.closeComponents()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	app.configWatcher = config.NewWatcher(configPath, app.configChan)

	return app, nil
}

// initializeComponents builds the store, the sensor stack, the remote
// sink and the HTTP server. Sensor hardware failures are tolerated;
// a broken store or a misconfigured sink is fatal.
func (a *App) initializeComponents() error {
	pulseNames := make([]string, 0, len(a.cfg.Pulses.Lines))
	for _, line := range a.cfg.Pulses.Lines {
		pulseNames = append(pulseNames, line.Name)
	}

	devices, err := a.buildAnalogDevices()
	if err != nil {
		return err
	}
	a.analog = analog.NewManager(devices, a.cfg.Analog.ReadTimeout)

	store, err := storage.NewStore(a.cfg.Storage.Dir, a.cfg.DeviceID, pulseNames, a.analog.ChannelNames())
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	a.store = store
	logger.Info().Str("dir", a.cfg.Storage.Dir).Msg("Record store opened")

	if a.cfg.Pulses.Enabled {
		a.selector = gpio.NewSelector(a.cfg.Pulses.Backends, a.cfg.Pulses.Skip,
			gpio.Options{ChipPriority: a.cfg.Pulses.ChipPriority})
		if err := a.buildCounters(); err != nil {
			return err
		}
	}

	if a.cfg.Telemetry.Enabled {
		emitter, telErr := telemetry.NewMQTTEmitter(telemetry.Config{
			Broker:   a.cfg.Telemetry.Broker,
			ClientID: a.cfg.Telemetry.ClientID,
			Topic:    a.cfg.Telemetry.Topic,
			Username: a.cfg.Telemetry.Username,
			Password: a.cfg.Telemetry.Password,
		}, a.cfg.DeviceID)
		if telErr != nil {
			// Telemetry is advisory; the node must keep sampling without it.
			logger.Warn().Err(telErr).Msg("Telemetry disabled, broker unreachable")
			a.tel = telemetry.Noop{}
		} else {
			a.tel = emitter
		}
	} else {
		a.tel = telemetry.Noop{}
	}

	a.led = led.New(a.cfg.LED.Name, a.cfg.LED.Enabled)

	if a.cfg.InfluxDB.URL != "" {
		sink, sinkErr := upload.NewInfluxDBSink(
			a.cfg.InfluxDB.URL,
			a.cfg.InfluxDB.Token,
			a.cfg.InfluxDB.Organization,
			a.cfg.InfluxDB.Bucket,
			a.cfg.InfluxDB.Measurement,
			a.cfg.DeviceID,
		)
		if sinkErr != nil {
			return fmt.Errorf("failed to initialize InfluxDB sink: %w", sinkErr)
		}
		a.sink = sink
		a.uploader = upload.NewManager(a.store, a.sink, upload.Options{
			Period:         a.cfg.Upload.Period,
			SendTimeout:    a.cfg.Upload.Timeout,
			InitialBackoff: a.cfg.Upload.InitialBackoff,
			MaxBackoff:     a.cfg.Upload.MaxBackoff,
		})
	} else {
		logger.Info().Msg("No remote sink configured, records stay local")
	}

	a.server = a.buildHTTPServer()

	return nil
}

// buildAnalogDevices constructs the configured ADC readers. A chip that
// fails to come up is replaced with a permanently failing stand-in so
// its channels keep their record columns and read as unavailable.
func (a *App) buildAnalogDevices() ([]analog.Device, error) {
	devices := make([]analog.Device, 0, len(a.cfg.Analog.Devices))
	for _, devCfg := range a.cfg.Analog.Devices {
		channelNames := make([]string, 0, len(devCfg.Channels))
		channels := make([]analog.ChannelConfig, 0, len(devCfg.Channels))
		for _, ch := range devCfg.Channels {
			channelNames = append(channelNames, ch.Name)
			scale := ch.Scale
			if scale == 0 {
				scale = 1
			}
			channels = append(channels, analog.ChannelConfig{
				Name:   ch.Name,
				Input:  ch.Input,
				Scale:  scale,
				Offset: ch.Offset,
			})
		}

		switch devCfg.Driver {
		case "sim":
			devices = append(devices, analog.NewFake(devCfg.Name, channelNames))
		case "ads1115":
			dev, err := analog.NewADS1115(analog.DeviceConfig{
				Name:       devCfg.Name,
				Bus:        devCfg.Bus,
				Address:    devCfg.Address,
				Gain:       devCfg.Gain,
				SampleRate: devCfg.SampleRate,
				Channels:   channels,
			})
			if err != nil {
				logger.Error().Err(err).Str("device", devCfg.Name).
					Msg("ADC unavailable, its channels will read as missing")
				broken := analog.NewFake(devCfg.Name, channelNames)
				broken.FailWith(err)
				devices = append(devices, broken)
				continue
			}
			devices = append(devices, dev)
		default:
			return nil, fmt.Errorf("unknown analog driver %q", devCfg.Driver)
		}
	}
	return devices, nil
}

// buildCounters constructs a counter per configured line. Counters are
// not started here; Run claims the lines once a backend is selected.
func (a *App) buildCounters() error {
	a.counters = make([]*pulse.Counter, 0, len(a.cfg.Pulses.Lines))
	for _, lineCfg := range a.cfg.Pulses.Lines {
		edge, err := gpio.ParseEdge(lineCfg.Edge)
		if err != nil {
			return fmt.Errorf("pulse line %s: %w", lineCfg.Name, err)
		}
		pull, err := gpio.ParsePull(lineCfg.Pull)
		if err != nil {
			return fmt.Errorf("pulse line %s: %w", lineCfg.Name, err)
		}
		a.counters = append(a.counters, pulse.NewCounter(pulse.Config{
			Name:     lineCfg.Name,
			Line:     lineCfg.Line,
			Edge:     edge,
			Pull:     pull,
			Debounce: lineCfg.Debounce,
		}))
	}
	return nil
}

// buildHTTPServer sets up the localhost metrics and health endpoints.
func (a *App) buildHTTPServer() *http.Server {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, a.sink)
	}))

	return &http.Server{
		Addr:    "localhost:" + a.metricsPort,
		Handler: mux,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	defer a.cancel()

	a.startMetricsServer()
	a.setupSignalHandler()
	a.startConfigWatcher()

	backendName := a.startPulseCounting()
	a.led.Startup()

	if a.uploader != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.uploader.Run(ctx)
		}()
	}

	col := collector.New(
		a.cfg.DeviceID,
		a.cfg.Sampling.Period,
		a.cfg.Sampling.Align,
		backendName,
		a.analog,
		a.counters,
		a.store,
		a.tel,
		a.led,
	)
	col.Run(ctx)

	a.performCleanup()
}

// startPulseCounting selects a GPIO backend and starts the counters on
// it. Every failure path degrades: a node with no working GPIO stack
// still samples its ADCs and uploads.
func (a *App) startPulseCounting() string {
	if a.selector == nil {
		return ""
	}

	backend, err := a.selector.Select()
	if err != nil {
		logger.Warn().Err(err).Msg("No GPIO backend available, pulse counting disabled")
		return ""
	}

	started := 0
	for _, counter := range a.counters {
		if startErr := counter.Start(backend); startErr != nil {
			logger.Error().Err(startErr).Str("line_name", counter.Name()).
				Int("line", counter.Line()).Msg("Pulse counter failed to start")
			continue
		}
		started++
	}
	logger.Info().Str("backend", backend.Name()).
		Int("started", started).Int("configured", len(a.counters)).
		Msg("Pulse counting started")

	return backend.Name()
}

// UploadOnce drains the undelivered backlog in a single pass and
// returns the number of units delivered. Used by the -upload-once flag.
func (a *App) UploadOnce(ctx context.Context) (int, error) {
	if a.uploader == nil {
		return 0, fmt.Errorf("no remote sink configured")
	}
	return a.uploader.Cycle(ctx), nil
}

// startMetricsServer starts the HTTP server for metrics and health checks
func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server (localhost only)")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		a.performGracefulShutdown()
	}()
}

// startConfigWatcher starts the SIGHUP reload loop. Only the logging
// level is applied live; sensor and storage topology changes need a
// restart and are called out as such.
func (a *App) startConfigWatcher() {
	a.configWatcher.Start(a.ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case reloaded := <-a.configChan:
				if reloaded.Logging.Level != a.cfg.Logging.Level {
					logger.Initialize(reloaded.Logging.Level, reloaded.Logging.File)
					logger.Info().Str("level", reloaded.Logging.Level).Msg("Log level updated")
				}
				if !reloadableOnly(a.cfg, reloaded) {
					logger.Warn().Msg("Reloaded configuration changes sensor, storage or upload topology; restart to apply")
				}
				a.cfg = reloaded
			}
		}
	}()
}

// reloadableOnly reports whether two configurations differ only in
// fields that can be applied without a restart.
func reloadableOnly(old, updated *config.Config) bool {
	oldCopy, newCopy := *old, *updated
	oldCopy.Logging = config.LoggingConfig{}
	newCopy.Logging = config.LoggingConfig{}
	return fmt.Sprintf("%+v", oldCopy) == fmt.Sprintf("%+v", newCopy)
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	backend := "none"
	if a.selector != nil {
		backend = a.selector.ActiveName()
	}
	logger.Info().
		Str("gpio_backend", backend).
		Int("pulse_counters", len(a.counters)).
		Msg("GPIO state")

	for _, counter := range a.counters {
		logger.Info().
			Str("line_name", counter.Name()).
			Int("line", counter.Line()).
			Bool("running", counter.Running()).
			Msg("Pulse counter state")
	}

	logger.Info().
		Strs("adc_channels", a.analog.ChannelNames()).
		Bool("uploader_active", a.uploader != nil).
		Bool("telemetry_enabled", a.tel.IsEnabled()).
		Msg("Pipeline state")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024) // 1MB buffer
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// performGracefulShutdown handles graceful shutdown of all components
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	a.configWatcher.Stop()
	a.cancel()
}

// performCleanup stops the sensor stack, closes the store and waits for
// goroutines to finish. Counters stop before the store closes so no
// tick can race a closed file.
func (a *App) performCleanup() {
	for _, counter := range a.counters {
		counter.Stop()
	}
	if a.selector != nil {
		a.selector.Close()
	}
	a.led.Stop()

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()

	a.closeComponents()
	logger.Info().Msg("All goroutines finished, exiting")
}

// closeComponents releases everything initializeComponents acquired.
// Safe to call with partially initialized state.
func (a *App) closeComponents() {
	if a.sink != nil {
		a.sink.Close()
	}
	if a.tel != nil {
		a.tel.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Record store close failed")
		}
	}
	if a.analog != nil {
		a.analog.Close()
	}
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler handles readiness check requests. A node with
// no remote sink is ready as soon as it is sampling.
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, sink interfaces.RemoteSink) {
	if sink == nil {
		w.WriteHeader(http.StatusOK)
		if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()

	if err := sink.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Readiness check failed: remote sink unhealthy")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: remote sink unhealthy")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}
