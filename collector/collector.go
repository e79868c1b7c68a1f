// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package collector runs the sampling loop: on every tick it captures an
// analog snapshot and the pulse deltas, assembles a record, and appends
// it to the durable store. Everything downstream of the store is the
// upload manager's problem.
package collector

import (
	"context"
	"time"

	"github.com/gerritdv/edge-sensing/analog"
	"github.com/gerritdv/edge-sensing/pkg/interfaces"
	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/pkg/metrics"
	"github.com/gerritdv/edge-sensing/pulse"
	"github.com/gerritdv/edge-sensing/storage"
	"github.com/gerritdv/edge-sensing/telemetry"
)

const telemetryTimeout = 5 * time.Second

// Collector drives the fixed-period sampling loop.
type Collector struct {
	deviceID    string
	period      time.Duration
	align       bool
	backendName string

	analog   *analog.Manager
	counters []*pulse.Counter
	store    interfaces.RecordStore
	tel      interfaces.Telemetry
	led      interfaces.StatusIndicator
}

// New creates a collector. counters may include lines whose Start failed;
// those report a nil delta every tick so downstream can tell "no data"
// from "zero edges". backendName is "" when pulse counting is disabled.
func New(deviceID string, period time.Duration, align bool, backendName string,
	am *analog.Manager, counters []*pulse.Counter,
	store interfaces.RecordStore, tel interfaces.Telemetry, led interfaces.StatusIndicator) *Collector {
	return &Collector{
		deviceID:    deviceID,
		period:      period,
		align:       align,
		backendName: backendName,
		analog:      am,
		counters:    counters,
		store:       store,
		tel:         tel,
		led:         led,
	}
}

// Run executes the sampling loop until the context is cancelled. The
// tick in progress always completes, so shutdown never truncates a
// record mid-append.
func (c *Collector) Run(ctx context.Context) {
	c.emitSettings(ctx)

	if c.align && !c.sleepToBoundary(ctx) {
		return
	}

	logger.Info().Dur("period", c.period).Str("device_id", c.deviceID).
		Msg("Sample collector started")

	c.Tick(ctx)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Sample collector shutting down")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			c.Tick(ctx)
		}
	}
}

// sleepToBoundary delays the first tick to the next period boundary so
// sampling windows align to the clock. Returns false if cancelled.
func (c *Collector) sleepToBoundary(ctx context.Context) bool {
	now := time.Now()
	wait := now.Truncate(c.period).Add(c.period).Sub(now)
	logger.Info().Dur("wait", wait).Msg("Aligning first sample to period boundary")

	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

// Tick performs one sampling pass. Partial sensor failures degrade the
// record; a storage append failure drops this tick's data by design and
// the loop carries on either way.
func (c *Collector) Tick(ctx context.Context) {
	start := time.Now()

	snap := c.analog.ReadAll(ctx)

	pulses := make(map[string]*int64, len(c.counters))
	for _, counter := range c.counters {
		if counter.Running() {
			delta := counter.SnapshotAndReset()
			pulses[counter.Name()] = &delta
		} else {
			pulses[counter.Name()] = nil
		}
	}

	rec := &storage.Record{
		Timestamp: snap.Timestamp,
		DeviceID:  c.deviceID,
		Analog:    snap.Values,
		Pulses:    pulses,
	}

	if err := c.store.Append(rec); err != nil {
		metrics.StorageWriteErrors.Inc()
		logger.Error().Err(err).Msg("Record append failed, tick data dropped")
		c.led.Error()
	} else {
		metrics.RecordsWritten.Inc()
		c.led.Heartbeat()
	}

	c.emitHeartbeat(ctx, rec, snap.Failed)
	metrics.SampleDuration.Observe(time.Since(start).Seconds())
}

// emitSettings publishes the run's effective settings once at startup.
func (c *Collector) emitSettings(ctx context.Context) {
	if !c.tel.IsEnabled() {
		return
	}

	lines := make([]map[string]any, 0, len(c.counters))
	for _, counter := range c.counters {
		lines = append(lines, map[string]any{
			"name":    counter.Name(),
			"line":    counter.Line(),
			"running": counter.Running(),
		})
	}

	payload := map[string]any{
		"period_seconds": c.period.Seconds(),
		"gpio_backend":   c.backendName,
		"pulse_lines":    lines,
		"adc_channels":   c.analog.ChannelNames(),
	}

	emitCtx, cancel := context.WithTimeout(ctx, telemetryTimeout)
	defer cancel()
	if err := c.tel.Emit(emitCtx, telemetry.KindSettings, payload); err != nil {
		logger.Warn().Err(err).Msg("Settings telemetry failed")
	}
}

// emitHeartbeat publishes a per-tick data event. Best effort only.
func (c *Collector) emitHeartbeat(ctx context.Context, rec *storage.Record, failed []string) {
	if !c.tel.IsEnabled() {
		return
	}

	pulses := make(map[string]any, len(rec.Pulses))
	for name, delta := range rec.Pulses {
		if delta == nil {
			pulses[name] = nil
		} else {
			pulses[name] = *delta
		}
	}

	payload := map[string]any{
		"ts":            rec.Timestamp,
		"analog":        rec.Analog,
		"analog_failed": failed,
		"pulses":        pulses,
	}

	emitCtx, cancel := context.WithTimeout(ctx, telemetryTimeout)
	defer cancel()
	if err := c.tel.Emit(emitCtx, telemetry.KindData, payload); err != nil {
		logger.Debug().Err(err).Msg("Data telemetry failed")
	}
}
