// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package gpio

import (
	"fmt"
	"sync"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/gerritdv/edge-sensing/pkg/errors"
	"github.com/gerritdv/edge-sensing/pkg/logger"
)

// edgeWaitTimeout bounds each WaitForEdge call so the watcher goroutine
// notices Release promptly even on a silent line.
const edgeWaitTimeout = time.Second

func init() {
	Register("periph", newPeriphBackend)
}

// periphBackend drives lines through the periph.io host drivers. Unlike
// cdev it has no event callbacks, so each claimed line gets a watcher
// goroutine blocking on WaitForEdge.
type periphBackend struct{}

func newPeriphBackend(_ Options) (Backend, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.NewBackendError("periph", -1, err)
	}
	return &periphBackend{}, nil
}

func (b *periphBackend) Name() string { return "periph" }

func (b *periphBackend) ClaimLine(req LineRequest, fn EdgeFunc) (Line, error) {
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", req.Line))
	if pin == nil {
		return nil, errors.NewBackendError("periph", req.Line, fmt.Errorf("no such pin"))
	}

	var pull pgpio.Pull
	switch req.Pull {
	case PullDown:
		pull = pgpio.PullDown
	case PullNone:
		pull = pgpio.Float
	default:
		pull = pgpio.PullUp
	}

	edge := pgpio.FallingEdge
	if req.Edge == Rising {
		edge = pgpio.RisingEdge
	}

	if err := pin.In(pull, edge); err != nil {
		return nil, errors.NewBackendError("periph", req.Line, err)
	}

	line := &periphLine{pin: pin, done: make(chan struct{})}
	go line.watch(fn)

	logger.Info().Int("line", req.Line).Str("edge", req.Edge.String()).
		Str("pull", req.Pull.String()).Msg("Pulse line claimed via periph")
	return line, nil
}

func (b *periphBackend) Close() error { return nil }

type periphLine struct {
	pin  pgpio.PinIO
	done chan struct{}
	once sync.Once
}

// watch loops on WaitForEdge, forwarding each edge to the counter
// callback. Software debounce in the counter filters the bounce this
// backend cannot suppress in hardware.
func (l *periphLine) watch(fn EdgeFunc) {
	for {
		select {
		case <-l.done:
			return
		default:
		}
		if l.pin.WaitForEdge(edgeWaitTimeout) {
			fn(time.Now())
		}
	}
}

func (l *periphLine) Release() error {
	l.once.Do(func() {
		close(l.done)
		if err := l.pin.Halt(); err != nil {
			logger.Debug().Err(err).Msg("periph pin halt failed")
		}
	})
	return nil
}
