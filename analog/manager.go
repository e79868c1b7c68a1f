// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package analog

import (
	"context"
	"time"

	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/pkg/metrics"
)

// defaultReadTimeout bounds one device's read so a wedged bus cannot
// stall the whole sampling tick.
const defaultReadTimeout = 5 * time.Second

// Snapshot is one tick's aggregated analog capture. Partial results are
// valid and expected in the field: failed channels are listed in Failed
// and absent from Values.
type Snapshot struct {
	Timestamp time.Time
	Values    map[string]float64
	Failed    []string
}

// Manager owns the configured analog devices and aggregates their
// readings.
type Manager struct {
	devices []Device
	timeout time.Duration
}

// NewManager creates a manager over the given devices.
func NewManager(devices []Device, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	return &Manager{devices: devices, timeout: timeout}
}

// ChannelNames returns every configured channel name across all devices,
// in device order. This fixes the record store's column layout.
func (m *Manager) ChannelNames() []string {
	var names []string
	for _, dev := range m.devices {
		names = append(names, dev.ChannelNames()...)
	}
	return names
}

// ReadAll captures a snapshot across all devices. A failing device
// contributes its failed channels to Failed and whatever values it
// managed to read to Values; ReadAll itself never fails.
func (m *Manager) ReadAll(ctx context.Context) Snapshot {
	snap := Snapshot{
		Timestamp: time.Now().UTC(),
		Values:    make(map[string]float64),
	}

	for _, dev := range m.devices {
		values, err := m.readDevice(ctx, dev)
		for ch, v := range values {
			snap.Values[ch] = v
			metrics.AnalogValue.WithLabelValues(ch).Set(v)
		}
		if err != nil {
			metrics.AnalogReadErrors.WithLabelValues(dev.Name()).Inc()
			logger.Warn().Err(err).Str("device", dev.Name()).
				Msg("Analog device read failed, omitting its channels from this snapshot")
		}
		for _, ch := range dev.ChannelNames() {
			if _, ok := snap.Values[ch]; !ok {
				snap.Failed = append(snap.Failed, ch)
			}
		}
	}

	return snap
}

type readResult struct {
	values map[string]float64
	err    error
}

// readDevice runs one device read with a bound on how long it may take.
// A timed-out read is abandoned; the goroutine finishes on its own once
// the bus call returns.
func (m *Manager) readDevice(ctx context.Context, dev Device) (map[string]float64, error) {
	done := make(chan readResult, 1)
	go func() {
		values, err := dev.Read()
		done <- readResult{values: values, err: err}
	}()

	select {
	case res := <-done:
		return res.values, res.err
	case <-time.After(m.timeout):
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes all devices.
func (m *Manager) Close() {
	for _, dev := range m.devices {
		if err := dev.Close(); err != nil {
			logger.Warn().Err(err).Str("device", dev.Name()).Msg("Analog device close failed")
		}
	}
}
