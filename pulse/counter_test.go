// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package pulse

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerritdv/edge-sensing/gpio"
)

func testConfig(name string, line int, debounce time.Duration) Config {
	return Config{
		Name:     name,
		Line:     line,
		Edge:     gpio.Falling,
		Pull:     gpio.PullUp,
		Debounce: debounce,
	}
}

func TestCounterCountsEdges(t *testing.T) {
	backend := gpio.NewSim()
	counter := NewCounter(testConfig("flow", 17, 5*time.Millisecond))

	require.NoError(t, counter.Start(backend))
	defer counter.Stop()

	start := time.Now()
	require.NoError(t, backend.Pulse(17, 10, start, 10*time.Millisecond))

	assert.Equal(t, int64(10), counter.SnapshotAndReset())
	assert.Equal(t, int64(0), counter.SnapshotAndReset(), "reset must zero the count")
}

func TestCounterDebounce(t *testing.T) {
	backend := gpio.NewSim()
	counter := NewCounter(testConfig("flow", 17, 10*time.Millisecond))

	require.NoError(t, counter.Start(backend))
	defer counter.Stop()

	base := time.Now()
	edges := []time.Duration{
		0,                      // accepted, first edge
		2 * time.Millisecond,   // bounce, rejected
		5 * time.Millisecond,   // bounce, rejected
		10 * time.Millisecond,  // accepted, exactly at the interval
		12 * time.Millisecond,  // bounce, rejected
		100 * time.Millisecond, // accepted
	}
	for _, offset := range edges {
		require.NoError(t, backend.Inject(17, base.Add(offset)))
	}

	assert.Equal(t, int64(3), counter.SnapshotAndReset())
}

func TestCounterDebounceSpansReset(t *testing.T) {
	backend := gpio.NewSim()
	counter := NewCounter(testConfig("flow", 17, 10*time.Millisecond))

	require.NoError(t, counter.Start(backend))
	defer counter.Stop()

	base := time.Now()
	require.NoError(t, backend.Inject(17, base))
	assert.Equal(t, int64(1), counter.SnapshotAndReset())

	// A bounce right after the reset still falls inside the debounce
	// window of the last accepted edge.
	require.NoError(t, backend.Inject(17, base.Add(2*time.Millisecond)))
	assert.Equal(t, int64(0), counter.SnapshotAndReset())
}

func TestCounterStartErrors(t *testing.T) {
	counter := NewCounter(testConfig("flow", 17, time.Millisecond))

	err := counter.Start(nil)
	require.Error(t, err)
	assert.False(t, counter.Running())

	backend := gpio.NewSim()
	require.NoError(t, counter.Start(backend))
	assert.True(t, counter.Running())

	// A second Start on a running counter is a no-op.
	assert.NoError(t, counter.Start(backend))
	assert.True(t, counter.Running())
	counter.Stop()
}

func TestCounterLineClaimConflict(t *testing.T) {
	backend := gpio.NewSim()

	first := NewCounter(testConfig("flow_a", 17, time.Millisecond))
	second := NewCounter(testConfig("flow_b", 17, time.Millisecond))

	require.NoError(t, first.Start(backend))
	defer first.Stop()

	err := second.Start(backend)
	require.Error(t, err)
	assert.False(t, second.Running(), "failed start must return to Stopped")
}

func TestCounterStopIdempotent(t *testing.T) {
	backend := gpio.NewSim()
	counter := NewCounter(testConfig("flow", 17, time.Millisecond))

	require.NoError(t, counter.Start(backend))
	counter.Stop()
	counter.Stop()
	assert.False(t, counter.Running())

	// The released line can be claimed again.
	require.NoError(t, counter.Start(backend))
	counter.Stop()
}

// TestCounterConcurrentSnapshot drives edges and snapshots from separate
// goroutines and checks that no pulse is lost or double counted: the sum
// of all snapshots equals the number of accepted edges.
func TestCounterConcurrentSnapshot(t *testing.T) {
	backend := gpio.NewSim()
	counter := NewCounter(testConfig("flow", 17, 0))

	require.NoError(t, counter.Start(backend))
	defer counter.Stop()

	const edges = 5000
	var total int64
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				total += counter.SnapshotAndReset()
			}
		}
	}()

	base := time.Now()
	for i := 0; i < edges; i++ {
		require.NoError(t, backend.Inject(17, base.Add(time.Duration(i)*time.Microsecond)))
	}

	close(done)
	wg.Wait()
	total += counter.SnapshotAndReset()

	assert.Equal(t, int64(edges), total)
}

func TestCounterEdgesIgnoredAfterStop(t *testing.T) {
	backend := gpio.NewSim()
	counter := NewCounter(testConfig("flow", 17, time.Millisecond))

	require.NoError(t, counter.Start(backend))
	counter.Stop()

	// The sim backend refuses injection on a released line.
	assert.Error(t, backend.Inject(17, time.Now()))
	assert.Equal(t, int64(0), counter.SnapshotAndReset())
}
