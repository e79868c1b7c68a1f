// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerritdv/edge-sensing/analog"
	"github.com/gerritdv/edge-sensing/gpio"
	"github.com/gerritdv/edge-sensing/led"
	"github.com/gerritdv/edge-sensing/pulse"
	"github.com/gerritdv/edge-sensing/storage"
	"github.com/gerritdv/edge-sensing/telemetry"
	"github.com/gerritdv/edge-sensing/upload"
)

type pipeline struct {
	dir       string
	backend   *gpio.SimBackend
	counter   *pulse.Counter
	adc       *analog.Fake
	store     *storage.Store
	collector *Collector
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	dir := t.TempDir()
	backend := gpio.NewSim()

	counter := pulse.NewCounter(pulse.Config{
		Name:     "flow",
		Line:     17,
		Edge:     gpio.Falling,
		Pull:     gpio.PullUp,
		Debounce: time.Millisecond,
	})
	require.NoError(t, counter.Start(backend))
	t.Cleanup(counter.Stop)

	adc := analog.NewFake("adc0", []string{"battery"})
	manager := analog.NewManager([]analog.Device{adc}, time.Second)

	store, err := storage.NewStore(dir, "node-1", []string{"flow"}, manager.ChannelNames())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	col := New("node-1", time.Minute, false, "sim",
		manager, []*pulse.Counter{counter},
		store, telemetry.Noop{}, led.New("ACT", false))

	return &pipeline{
		dir:       dir,
		backend:   backend,
		counter:   counter,
		adc:       adc,
		store:     store,
		collector: col,
	}
}

func (p *pipeline) todayUnit() storage.Unit {
	id := time.Now().UTC().Format("2006-01-02") + "_node-1.csv"
	return storage.Unit{ID: id, Path: filepath.Join(p.dir, id)}
}

func TestTickCapturesSensorsIntoRecord(t *testing.T) {
	p := newPipeline(t)

	p.adc.SetValue("battery", 1.234)
	require.NoError(t, p.backend.Pulse(17, 7, time.Now(), 10*time.Millisecond))

	p.collector.Tick(context.Background())

	records, err := storage.ReadUnit(p.todayUnit(), "node-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, 1.234, records[0].Analog["battery"])
	require.NotNil(t, records[0].Pulses["flow"])
	assert.Equal(t, int64(7), *records[0].Pulses["flow"])
	assert.WithinDuration(t, time.Now(), records[0].Timestamp, time.Minute)
}

func TestTickResetsPulseWindow(t *testing.T) {
	p := newPipeline(t)

	require.NoError(t, p.backend.Pulse(17, 3, time.Now(), 10*time.Millisecond))
	p.collector.Tick(context.Background())

	// No edges between ticks: the next window reports zero, not three.
	p.collector.Tick(context.Background())

	records, err := storage.ReadUnit(p.todayUnit(), "node-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(3), *records[0].Pulses["flow"])
	assert.Equal(t, int64(0), *records[1].Pulses["flow"])
}

func TestTickStoppedCounterReportsNoData(t *testing.T) {
	p := newPipeline(t)
	p.counter.Stop()

	p.collector.Tick(context.Background())

	records, err := storage.ReadUnit(p.todayUnit(), "node-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Pulses["flow"], "stopped counter must record NA, not 0")
}

func TestTickFailedADCReportsNoData(t *testing.T) {
	p := newPipeline(t)
	p.adc.FailWith(assert.AnError)
	require.NoError(t, p.backend.Pulse(17, 2, time.Now(), 10*time.Millisecond))

	p.collector.Tick(context.Background())

	records, err := storage.ReadUnit(p.todayUnit(), "node-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, ok := records[0].Analog["battery"]
	assert.False(t, ok, "failed channel must be absent, not zero")
	assert.Equal(t, int64(2), *records[0].Pulses["flow"], "pulse path is independent of the ADC")
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.collector.Run(ctx)
		close(done)
	}()

	// Let the immediate first tick land, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop on context cancellation")
	}

	records, err := storage.ReadUnit(p.todayUnit(), "node-1")
	require.NoError(t, err)
	assert.NotEmpty(t, records)
}

// countingSink acknowledges every unit and records distinct deliveries
// per idempotency key.
type countingSink struct {
	deliveries map[string]int
}

func (s *countingSink) Send(_ context.Context, unit storage.Unit) error {
	s.deliveries[unit.ID] = 1
	return nil
}
func (s *countingSink) Health(context.Context) error { return nil }
func (s *countingSink) Close()                       {}

// TestPipelineEndToEnd walks the full path: sample into a day bucket,
// close the bucket, upload it, and verify the marker keeps it from being
// listed again.
func TestPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.NewStore(dir, "node-1", []string{"flow"}, []string{"battery"})
	require.NoError(t, err)
	defer store.Close()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, store.Append(&storage.Record{
		Timestamp: yesterday,
		DeviceID:  "node-1",
		Analog:    map[string]float64{"battery": 1.234},
		Pulses:    map[string]*int64{"flow": storage.Delta(7)},
	}))

	sink := &countingSink{deliveries: make(map[string]int)}
	uploader := upload.NewManager(store, sink, upload.Options{})

	delivered := uploader.Cycle(context.Background())
	assert.Equal(t, 1, delivered)

	unitID := yesterday.Format("2006-01-02") + "_node-1.csv"
	assert.True(t, store.IsDelivered(unitID))
	assert.Equal(t, 1, sink.deliveries[unitID])

	// Delivered units leave the backlog for good.
	assert.Equal(t, 0, uploader.Cycle(context.Background()))

	units, listErr := store.ListUndelivered()
	require.NoError(t, listErr)
	assert.Empty(t, units)
}
