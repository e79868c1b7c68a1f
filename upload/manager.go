// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package upload

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gerritdv/edge-sensing/pkg/interfaces"
	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/pkg/metrics"
	"github.com/gerritdv/edge-sensing/storage"
)

const (
	defaultPeriod         = 5 * time.Minute
	defaultSendTimeout    = 30 * time.Second
	defaultInitialBackoff = 30 * time.Second
	defaultMaxBackoff     = 30 * time.Minute

	breakerConsecutiveFailures = 5
	breakerResetTimeout        = time.Minute
)

// Options tunes the upload manager.
type Options struct {
	Period         time.Duration // cycle interval
	SendTimeout    time.Duration // per-unit transmission bound
	InitialBackoff time.Duration // first retry delay for a failed unit
	MaxBackoff     time.Duration // retry delay cap
}

func (o *Options) applyDefaults() {
	if o.Period <= 0 {
		o.Period = defaultPeriod
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
}

// attemptState tracks per-unit retry backoff across cycles.
type attemptState struct {
	attempts  int
	notBefore time.Time
}

// Manager scans the store for undelivered units and drains them to the
// remote sink, oldest first. It never hands data to the collector or
// receives any from it; the store is the only coupling.
//
// The delivery contract: a marker is written only after the sink acks,
// and a marker-write failure leaves the unit pending on purpose — the
// sink's idempotency key turns next cycle's re-send into an overwrite,
// keeping delivery at-most-once from the remote observer's perspective.
type Manager struct {
	store   interfaces.RecordStore
	sink    interfaces.RemoteSink
	opts    Options
	breaker *gobreaker.CircuitBreaker
	pending map[string]*attemptState

	now func() time.Time // replaced in tests
}

// NewManager creates an upload manager.
func NewManager(store interfaces.RecordStore, sink interfaces.RemoteSink, opts Options) *Manager {
	opts.applyDefaults()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "remote-sink",
		Timeout: breakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Remote sink circuit breaker state change")
		},
	})

	return &Manager{
		store:   store,
		sink:    sink,
		opts:    opts,
		breaker: breaker,
		pending: make(map[string]*attemptState),
		now:     time.Now,
	}
}

// Run executes upload cycles until the context is cancelled. The first
// cycle starts immediately so a restart with a backlog begins draining
// without waiting a full period. The current unit's attempt finishes
// before shutdown; nothing is interrupted mid-marker.
func (m *Manager) Run(ctx context.Context) {
	logger.Info().Dur("period", m.opts.Period).Msg("Upload manager started")

	m.Cycle(ctx)

	ticker := time.NewTicker(m.opts.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Upload manager shutting down")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			m.Cycle(ctx)
		}
	}
}

// Cycle runs one scan-and-drain pass and returns the number of units
// delivered. A failing unit is skipped, not blocked on: the rest of the
// backlog still gets its attempt this cycle. A terminal-looking error
// (bad credentials, rejected bucket) is indistinguishable from a long
// outage here, and deliberately so — credentials may be fixed at
// runtime, so the loop just keeps retrying on its schedule.
func (m *Manager) Cycle(ctx context.Context) int {
	units, err := m.store.ListUndelivered()
	if err != nil {
		logger.Error().Err(err).Msg("Listing undelivered units failed")
		return 0
	}
	metrics.UploadBacklog.Set(float64(len(units)))

	delivered := 0
	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}

		state := m.pending[unit.ID]
		if state != nil && m.now().Before(state.notBefore) {
			logger.Debug().Str("unit", unit.ID).Time("not_before", state.notBefore).
				Msg("Unit in backoff, skipping this cycle")
			continue
		}

		start := time.Now()
		err := m.send(ctx, unit)
		metrics.UploadDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.UploadErrors.Inc()
			m.recordFailure(unit.ID, err)
			continue
		}

		metrics.UploadsTotal.Inc()
		delete(m.pending, unit.ID)
		delivered++

		if markErr := m.store.MarkDelivered(unit.ID); markErr != nil {
			// Delivered but marker pending. The unit stays listed and is
			// re-sent next cycle; the sink's idempotency key keeps the
			// remote side at one observed delivery.
			metrics.MarkerWriteErrors.Inc()
			logger.Error().Err(markErr).Str("unit", unit.ID).
				Msg("Delivery marker write failed after successful upload; unit will be re-sent idempotently")
		}
	}

	if delivered > 0 {
		logger.Info().Int("delivered", delivered).Int("backlog", len(units)-delivered).
			Msg("Upload cycle complete")
	}
	return delivered
}

// send transmits one unit through the circuit breaker with a bounded
// timeout.
func (m *Manager) send(ctx context.Context, unit storage.Unit) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	defer cancel()

	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.sink.Send(sendCtx, unit)
	})
	return err
}

// recordFailure notes a failed attempt and schedules the unit's next
// try with bounded exponential backoff.
func (m *Manager) recordFailure(unitID string, err error) {
	state := m.pending[unitID]
	if state == nil {
		state = &attemptState{}
		m.pending[unitID] = state
	}
	state.attempts++

	backoff := m.opts.InitialBackoff << (state.attempts - 1)
	if backoff <= 0 || backoff > m.opts.MaxBackoff {
		backoff = m.opts.MaxBackoff
	}
	state.notBefore = m.now().Add(backoff)

	logger.Warn().Err(err).Str("unit", unitID).Int("attempts", state.attempts).
		Dur("backoff", backoff).Msg("Delivery failed, unit stays pending")
}
