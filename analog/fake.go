// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package analog

import (
	"sync"

	"github.com/gerritdv/edge-sensing/pkg/errors"
)

// Fake is an in-memory Device for tests and for running the node without
// ADC hardware (driver "sim"). Values and failures are injected by the
// caller.
type Fake struct {
	name     string
	channels []string

	mu     sync.Mutex
	values map[string]float64
	err    error
}

// NewFake creates a fake device reporting 0.0 for every channel until
// SetValue is called. Channel order is preserved: it determines the
// record store's column layout.
func NewFake(name string, channels []string) *Fake {
	values := make(map[string]float64, len(channels))
	for _, ch := range channels {
		values[ch] = 0.0
	}
	return &Fake{
		name:     name,
		channels: append([]string(nil), channels...),
		values:   values,
	}
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) ChannelNames() []string {
	return append([]string(nil), f.channels...)
}

// SetValue sets the value reported for one channel.
func (f *Fake) SetValue(channel string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[channel] = v
}

// FailWith makes every subsequent Read return the given error with no
// values, simulating an unresponsive device. Pass nil to recover.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) Read() (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, errors.NewDeviceUnavailableError(f.name, "read", f.err)
	}
	out := make(map[string]float64, len(f.values))
	for ch, v := range f.values {
		out[ch] = v
	}
	return out, nil
}

func (f *Fake) Close() error { return nil }
