// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package gpio

import (
	"github.com/gerritdv/edge-sensing/pkg/errors"
	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/pkg/metrics"
)

// Selector tries an ordered list of backend names and activates the first
// one whose factory succeeds. Selection happens once at startup; a backend
// failure after selection degrades the affected lines but never triggers
// re-selection mid-run.
type Selector struct {
	order  []string
	skip   map[string]struct{}
	opts   Options
	active Backend
}

// NewSelector builds a selector from the configured preference list and
// skip set.
func NewSelector(order []string, skip []string, opts Options) *Selector {
	skipSet := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipSet[name] = struct{}{}
	}
	return &Selector{order: order, skip: skipSet, opts: opts}
}

// Select walks the preference list. Every individual failure is expected
// (daemon missing, no device node, line claimed elsewhere) and logged at
// debug level; only the all-failed outcome surfaces, and even that is
// non-fatal to the caller, which disables pulse counting for this run.
func (s *Selector) Select() (Backend, error) {
	for _, name := range s.order {
		if _, skipped := s.skip[name]; skipped {
			logger.Debug().Str("backend", name).Msg("Skipping backend per config")
			continue
		}

		factory, known := factories[name]
		if !known {
			logger.Warn().Str("backend", name).Msg("Unknown GPIO backend in preference list")
			continue
		}

		backend, err := factory(s.opts)
		if err != nil {
			logger.Debug().Err(err).Str("backend", name).Msg("GPIO backend failed to initialize")
			continue
		}

		s.active = backend
		metrics.ActiveBackend.WithLabelValues(name).Set(1)
		logger.Info().Str("backend", name).Msg("GPIO backend selected")
		return backend, nil
	}

	logger.Warn().Strs("tried", s.order).Msg("No GPIO backend available; pulse counting disabled")
	return nil, errors.ErrNoBackend
}

// Active returns the selected backend, or nil if selection failed or has
// not run.
func (s *Selector) Active() Backend {
	return s.active
}

// ActiveName returns the selected backend's name for diagnostics, or ""
// when pulse counting is disabled.
func (s *Selector) ActiveName() string {
	if s.active == nil {
		return ""
	}
	return s.active.Name()
}

// Close shuts down the active backend, if any.
func (s *Selector) Close() {
	if s.active != nil {
		if err := s.active.Close(); err != nil {
			logger.Warn().Err(err).Str("backend", s.active.Name()).Msg("GPIO backend close failed")
		}
		s.active = nil
	}
}
