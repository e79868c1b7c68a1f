// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import "context"

// Telemetry is the best-effort out-of-band event channel. Emission
// failures must never affect sampling or upload correctness; callers log
// the returned error and move on.
type Telemetry interface {
	// Emit sends one event of the given kind ("settings", "heartbeat",
	// "data") with an arbitrary JSON-serializable payload
	Emit(ctx context.Context, kind string, payload any) error

	// IsEnabled returns true if the telemetry channel is configured
	IsEnabled() bool

	// Close disconnects the underlying client
	Close()
}

// StatusIndicator drives the node's status LED. All methods are
// non-blocking and safe to call when the LED is unavailable.
type StatusIndicator interface {
	Startup()
	Heartbeat()
	Error()
	Stop()
}
