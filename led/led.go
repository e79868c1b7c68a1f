// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package led drives the Pi's built-in status LED through sysfs for
// field-visible signaling: a short blink per sample, a triple blink on
// error, a long blink at startup. Everything here degrades to disabled;
// a missing LED or missing permission never affects the node.
package led

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gerritdv/edge-sensing/pkg/logger"
)

// ledBase is the sysfs directory holding named LEDs.
var ledBase = "/sys/class/leds"

// StatusLED controls one sysfs LED. The original trigger is saved on
// init and restored on Stop so the board's default behavior returns when
// the service exits.
type StatusLED struct {
	path            string
	enabled         bool
	originalTrigger string
	mu              sync.Mutex
}

// New opens the named LED ("ACT" or "PWR"). Any failure disables the
// indicator and is logged once.
func New(name string, enabled bool) *StatusLED {
	l := &StatusLED{path: filepath.Join(ledBase, name)}
	if !enabled {
		logger.Info().Msg("LED status indicator disabled by config")
		return l
	}

	if _, err := os.Stat(l.path); err != nil {
		logger.Warn().Str("led", name).Msg("LED not found, status indicator disabled")
		return l
	}

	content, err := os.ReadFile(filepath.Join(l.path, "trigger"))
	if err == nil {
		// The active trigger is bracketed in the trigger list.
		for _, part := range strings.Fields(string(content)) {
			if strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") {
				l.originalTrigger = strings.Trim(part, "[]")
				break
			}
		}
	}

	if err := os.WriteFile(filepath.Join(l.path, "trigger"), []byte("none"), 0o644); err != nil {
		logger.Warn().Err(err).Str("led", name).
			Msg("No permission to control LED, status indicator disabled")
		return l
	}

	l.enabled = true
	logger.Info().Str("led", name).Str("original_trigger", l.originalTrigger).
		Msg("LED status indicator initialized")
	return l
}

func (l *StatusLED) setBrightness(on bool) {
	v := "0"
	if on {
		v = "1"
	}
	// LED write errors are silently ignored; the LED is cosmetic.
	_ = os.WriteFile(filepath.Join(l.path, "brightness"), []byte(v), 0o644)
}

// blink runs the pattern on the caller's goroutine, serialized so
// overlapping patterns don't interleave.
func (l *StatusLED) blink(onDur, offDur time.Duration, count int) {
	if !l.enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < count; i++ {
		l.setBrightness(true)
		time.Sleep(onDur)
		l.setBrightness(false)
		if offDur > 0 {
			time.Sleep(offDur)
		}
	}
}

// Heartbeat does a single short blink indicating a successful sample.
func (l *StatusLED) Heartbeat() {
	go l.blink(50*time.Millisecond, 0, 1)
}

// Error does a rapid triple blink indicating an error.
func (l *StatusLED) Error() {
	go l.blink(100*time.Millisecond, 100*time.Millisecond, 3)
}

// Startup does a long blink indicating service start.
func (l *StatusLED) Startup() {
	go l.blink(500*time.Millisecond, 0, 1)
}

// Stop restores the LED's original trigger.
func (l *StatusLED) Stop() {
	if !l.enabled || l.originalTrigger == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.WriteFile(filepath.Join(l.path, "trigger"), []byte(l.originalTrigger), 0o644); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore LED trigger")
		return
	}
	logger.Info().Str("trigger", l.originalTrigger).Msg("LED trigger restored")
}
