// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package gpio abstracts edge-triggered GPIO input behind a small backend
// interface. Concrete backends wrap the Linux GPIO character device, the
// periph.io host drivers, or an in-process simulator; the Selector picks
// the first one that initializes on this machine.
package gpio

import (
	"fmt"
	"strings"
	"time"
)

// Edge is the signal transition a line reacts to.
type Edge int

const (
	// Falling counts high-to-low transitions (the default for pulled-up
	// reed switches and open-collector meters).
	Falling Edge = iota
	// Rising counts low-to-high transitions.
	Rising
)

func (e Edge) String() string {
	if e == Rising {
		return "rising"
	}
	return "falling"
}

// ParseEdge parses an edge polarity from config.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(s) {
	case "falling", "":
		return Falling, nil
	case "rising":
		return Rising, nil
	default:
		return Falling, fmt.Errorf("unknown edge polarity %q", s)
	}
}

// Pull is the line's bias configuration.
type Pull int

const (
	// PullUp enables the internal pull-up resistor.
	PullUp Pull = iota
	// PullDown enables the internal pull-down resistor.
	PullDown
	// PullNone leaves the line floating.
	PullNone
)

func (p Pull) String() string {
	switch p {
	case PullDown:
		return "down"
	case PullNone:
		return "none"
	default:
		return "up"
	}
}

// ParsePull parses a pull configuration from config.
func ParsePull(s string) (Pull, error) {
	switch strings.ToLower(s) {
	case "up", "":
		return PullUp, nil
	case "down":
		return PullDown, nil
	case "none", "float":
		return PullNone, nil
	default:
		return PullUp, fmt.Errorf("unknown pull configuration %q", s)
	}
}

// LineRequest describes one edge-counting claim on a GPIO line.
type LineRequest struct {
	Line     int
	Edge     Edge
	Pull     Pull
	Debounce time.Duration
	Consumer string // label visible in gpioinfo
}

// EdgeFunc is invoked by the backend on every matching edge. It may run
// on a backend-owned goroutine; implementations keep it short and never
// block in it.
type EdgeFunc func(ts time.Time)

// Line is a claimed GPIO line. Release is idempotent.
type Line interface {
	Release() error
}

// Backend is a concrete GPIO implementation tied to a specific driver.
// The rest of the system depends only on this shape.
type Backend interface {
	// Name returns the backend's registry name, for diagnostics.
	Name() string

	// ClaimLine registers an edge callback for the requested line. It
	// fails if the line is already claimed or the configuration is
	// rejected; callers treat that as non-fatal and disable the line.
	ClaimLine(req LineRequest, fn EdgeFunc) (Line, error)

	// Close releases all backend resources.
	Close() error
}

// Options carries backend tuning shared across implementations.
type Options struct {
	// ChipPriority orders gpiochip numbers for backends that scan
	// multiple chips. Chips not listed are tried afterwards in device
	// order.
	ChipPriority []int
}

// Factory constructs a backend, failing when its driver or daemon is not
// usable on this machine. Failure is expected and non-fatal.
type Factory func(opts Options) (Backend, error)

var factories = map[string]Factory{}

// Register makes a backend available to the Selector under a name.
func Register(name string, f Factory) {
	factories[name] = f
}
