// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package pulse implements per-line debounced edge counting on top of a
// GPIO backend. The edge callback and the sampling loop are different
// concurrency domains; the only shared state is the counter itself,
// guarded by a mutex scoped strictly to the increment/reset pair.
package pulse

import (
	"sync"
	"time"

	"github.com/gerritdv/edge-sensing/gpio"
	"github.com/gerritdv/edge-sensing/pkg/errors"
	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/pkg/metrics"
)

// State is the counter lifecycle state.
type State int

const (
	// Stopped means no line is claimed.
	Stopped State = iota
	// Starting means a claim is in flight.
	Starting
	// Running means edges are being counted.
	Running
)

// Config describes one counted pulse line.
type Config struct {
	Name     string // logical name, becomes the record column
	Line     int    // GPIO line number (BCM numbering)
	Edge     gpio.Edge
	Pull     gpio.Pull
	Debounce time.Duration
}

// Counter counts debounced edges on one GPIO line. An edge is accepted
// only if at least the debounce interval has passed since the previous
// accepted edge, which suppresses contact bounce from mechanical
// switches.
type Counter struct {
	cfg Config

	mu       sync.Mutex
	count    int64
	lastEdge time.Time
	state    State
	line     gpio.Line
}

// NewCounter creates a counter in the Stopped state.
func NewCounter(cfg Config) *Counter {
	return &Counter{cfg: cfg}
}

// Name returns the line's logical name.
func (c *Counter) Name() string { return c.cfg.Name }

// Line returns the GPIO line number.
func (c *Counter) Line() int { return c.cfg.Line }

// Start claims the line on the given backend and begins counting. A
// rejected claim leaves the counter Stopped; the caller disables the
// line and the rest of the system continues.
func (c *Counter) Start(backend gpio.Backend) error {
	if backend == nil {
		return errors.ErrNoBackend
	}

	c.mu.Lock()
	if c.state != Stopped {
		c.mu.Unlock()
		return nil
	}
	c.state = Starting
	c.mu.Unlock()

	req := gpio.LineRequest{
		Line:     c.cfg.Line,
		Edge:     c.cfg.Edge,
		Pull:     c.cfg.Pull,
		Debounce: c.cfg.Debounce,
		Consumer: "edge-sensing-" + c.cfg.Name,
	}

	line, err := backend.ClaimLine(req, c.onEdge)
	if err != nil {
		c.mu.Lock()
		c.state = Stopped
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.line = line
	c.state = Running
	c.mu.Unlock()

	metrics.PulseLinesActive.Inc()
	logger.Info().Str("name", c.cfg.Name).Int("line", c.cfg.Line).
		Dur("debounce", c.cfg.Debounce).Str("backend", backend.Name()).
		Msg("Pulse counter started")
	return nil
}

// onEdge runs in the backend's callback context. The lock covers only
// the debounce decision and the increment, never I/O.
func (c *Counter) onEdge(ts time.Time) {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	accepted := c.lastEdge.IsZero() || ts.Sub(c.lastEdge) >= c.cfg.Debounce
	if accepted {
		c.count++
		c.lastEdge = ts
	}
	c.mu.Unlock()

	if accepted {
		metrics.PulseEdgesTotal.WithLabelValues(c.cfg.Name).Inc()
	} else {
		metrics.PulseEdgesDebounced.WithLabelValues(c.cfg.Name).Inc()
	}
}

// SnapshotAndReset atomically returns the current count and resets it to
// zero. It is the only cross-context accessor: an edge arriving during
// the reset lands in the next window, never in neither.
func (c *Counter) SnapshotAndReset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.count
	c.count = 0
	return n
}

// Running reports whether the counter has an active line. The collector
// uses this to distinguish "zero edges" from "no data".
func (c *Counter) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Running
}

// Stop releases the line. Stopping an already-stopped counter is a
// no-op. The release happens outside the counter lock.
func (c *Counter) Stop() {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	line := c.line
	c.line = nil
	c.state = Stopped
	c.mu.Unlock()

	if line != nil {
		if err := line.Release(); err != nil {
			logger.Warn().Err(err).Str("name", c.cfg.Name).Msg("Pulse line release failed")
		}
	}
	metrics.PulseLinesActive.Dec()
	logger.Info().Str("name", c.cfg.Name).Int("line", c.cfg.Line).Msg("Pulse counter stopped")
}
