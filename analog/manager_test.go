// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package analog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAllAggregatesDevices(t *testing.T) {
	battery := NewFake("adc0", []string{"battery", "solar"})
	battery.SetValue("battery", 3.72)
	battery.SetValue("solar", 5.1)
	moisture := NewFake("adc1", []string{"moisture"})
	moisture.SetValue("moisture", 1.234)

	m := NewManager([]Device{battery, moisture}, time.Second)

	snap := m.ReadAll(context.Background())
	assert.Equal(t, 3.72, snap.Values["battery"])
	assert.Equal(t, 5.1, snap.Values["solar"])
	assert.Equal(t, 1.234, snap.Values["moisture"])
	assert.Empty(t, snap.Failed)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestReadAllPartialFailure(t *testing.T) {
	healthy := NewFake("adc0", []string{"battery"})
	healthy.SetValue("battery", 3.72)
	broken := NewFake("adc1", []string{"moisture", "ph"})
	broken.FailWith(fmt.Errorf("i2c: remote I/O error"))

	m := NewManager([]Device{healthy, broken}, time.Second)

	snap := m.ReadAll(context.Background())
	assert.Equal(t, 3.72, snap.Values["battery"])
	assert.ElementsMatch(t, []string{"moisture", "ph"}, snap.Failed)
	_, ok := snap.Values["moisture"]
	assert.False(t, ok)
}

func TestReadAllDeviceRecovers(t *testing.T) {
	dev := NewFake("adc0", []string{"battery"})
	dev.FailWith(fmt.Errorf("bus stuck"))
	m := NewManager([]Device{dev}, time.Second)

	snap := m.ReadAll(context.Background())
	assert.Equal(t, []string{"battery"}, snap.Failed)

	dev.FailWith(nil)
	dev.SetValue("battery", 4.0)
	snap = m.ReadAll(context.Background())
	assert.Empty(t, snap.Failed)
	assert.Equal(t, 4.0, snap.Values["battery"])
}

// slowDevice never returns within the test's patience, standing in for a
// wedged I2C bus.
type slowDevice struct {
	name     string
	channels []string
	block    chan struct{}
}

func (d *slowDevice) Name() string           { return d.name }
func (d *slowDevice) ChannelNames() []string { return d.channels }
func (d *slowDevice) Close() error           { return nil }

func (d *slowDevice) Read() (map[string]float64, error) {
	<-d.block
	return nil, nil
}

func TestReadAllTimeout(t *testing.T) {
	slow := &slowDevice{name: "adc0", channels: []string{"stuck"}, block: make(chan struct{})}
	defer close(slow.block)

	healthy := NewFake("adc1", []string{"battery"})
	healthy.SetValue("battery", 3.3)

	m := NewManager([]Device{slow, healthy}, 20*time.Millisecond)

	start := time.Now()
	snap := m.ReadAll(context.Background())

	assert.Less(t, time.Since(start), time.Second, "wedged device must not stall the tick")
	assert.Equal(t, []string{"stuck"}, snap.Failed)
	assert.Equal(t, 3.3, snap.Values["battery"])
}

func TestReadAllContextCancelled(t *testing.T) {
	slow := &slowDevice{name: "adc0", channels: []string{"stuck"}, block: make(chan struct{})}
	defer close(slow.block)

	m := NewManager([]Device{slow}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := m.ReadAll(ctx)
	assert.Equal(t, []string{"stuck"}, snap.Failed)
}

func TestChannelNamesFixedOrder(t *testing.T) {
	a := NewFake("adc0", []string{"battery", "solar"})
	b := NewFake("adc1", []string{"moisture"})
	m := NewManager([]Device{a, b}, time.Second)

	want := []string{"battery", "solar", "moisture"}
	require.Equal(t, want, m.ChannelNames())
	// Order is stable across calls; the store's column layout depends
	// on it.
	require.Equal(t, want, m.ChannelNames())
}
