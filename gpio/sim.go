// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gerritdv/edge-sensing/pkg/errors"
)

func init() {
	Register("sim", func(_ Options) (Backend, error) {
		return NewSim(), nil
	})
}

// SimBackend is an in-process backend for tests and for running the node
// on machines without GPIO hardware. Edges are injected programmatically.
type SimBackend struct {
	mu    sync.Mutex
	lines map[int]*simLine
}

// NewSim creates a simulated backend.
func NewSim() *SimBackend {
	return &SimBackend{lines: make(map[int]*simLine)}
}

func (b *SimBackend) Name() string { return "sim" }

func (b *SimBackend) ClaimLine(req LineRequest, fn EdgeFunc) (Line, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, taken := b.lines[req.Line]; taken {
		return nil, errors.NewBackendError("sim", req.Line, errors.ErrLineClaimed)
	}

	line := &simLine{backend: b, num: req.Line, fn: fn}
	b.lines[req.Line] = line
	return line, nil
}

func (b *SimBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = make(map[int]*simLine)
	return nil
}

// Inject delivers one edge on a claimed line with the given timestamp.
// It fails if the line is not claimed, which catches miswired tests.
func (b *SimBackend) Inject(line int, ts time.Time) error {
	b.mu.Lock()
	l, ok := b.lines[line]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("sim: line %d not claimed", line)
	}
	l.fn(ts)
	return nil
}

// Pulse delivers count edges spaced gap apart, starting at start. The
// callbacks run synchronously on the caller's goroutine.
func (b *SimBackend) Pulse(line int, count int, start time.Time, gap time.Duration) error {
	for i := 0; i < count; i++ {
		if err := b.Inject(line, start.Add(time.Duration(i)*gap)); err != nil {
			return err
		}
	}
	return nil
}

type simLine struct {
	backend *SimBackend
	num     int
	fn      EdgeFunc
	once    sync.Once
}

func (l *simLine) Release() error {
	l.once.Do(func() {
		l.backend.mu.Lock()
		delete(l.backend.lines, l.num)
		l.backend.mu.Unlock()
	})
	return nil
}
