// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the edge sensing node.
//
// The failure taxonomy mirrors how the node degrades in the field: a dead
// ADC channel, a GPIO backend that refuses a line, a failed CSV append, an
// upload that did not reach the remote store, or a delivery marker that
// could not be written after a successful upload. All of these are
// transient, tolerated conditions; none of them may terminate the process.
//
// # Example Usage
//
//	err := errors.NewDeviceUnavailableError("adc1", "read conversion", busErr)
//	if errors.IsDeviceUnavailable(err) {
//	    // omit the channel from this tick's snapshot
//	}
package errors

import (
	"errors"
	"fmt"
)

// DeviceUnavailableError reports that an analog device did not respond.
// It is scoped to one device for one read; the rest of the snapshot is
// still valid.
type DeviceUnavailableError struct {
	Device string // Device name from config (e.g. "adc1")
	Op     string // Operation being performed (e.g. "write config", "read conversion")
	Err    error  // Underlying error
}

func (e *DeviceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s unavailable during %s: %v", e.Device, e.Op, e.Err)
	}
	return fmt.Sprintf("device %s unavailable during %s", e.Device, e.Op)
}

func (e *DeviceUnavailableError) Unwrap() error {
	return e.Err
}

// NewDeviceUnavailableError creates a new device unavailable error.
func NewDeviceUnavailableError(device, op string, err error) *DeviceUnavailableError {
	return &DeviceUnavailableError{Device: device, Op: op, Err: err}
}

// IsDeviceUnavailable checks if an error is a DeviceUnavailableError.
func IsDeviceUnavailable(err error) bool {
	var de *DeviceUnavailableError
	return errors.As(err, &de)
}

// BackendError reports that a GPIO backend rejected initialization or a
// line claim. The caller disables the affected line and carries on.
type BackendError struct {
	Backend string // Backend name (e.g. "cdev", "periph")
	Line    int    // GPIO line number, -1 if the whole backend failed
	Err     error  // Underlying error
}

func (e *BackendError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("gpio backend %s: line %d: %v", e.Backend, e.Line, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("gpio backend %s: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("gpio backend %s failed", e.Backend)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError creates a new backend error.
func NewBackendError(backend string, line int, err error) *BackendError {
	return &BackendError{Backend: backend, Line: line, Err: err}
}

// IsBackendError checks if an error is a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// StorageError represents an error during local storage operations.
type StorageError struct {
	Op   string // Operation being performed (e.g. "append", "list", "rotate")
	Unit string // Storage unit involved, if applicable
	Err  error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("storage %s (unit=%s): %v", e.Op, e.Unit, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op, unit string, err error) *StorageError {
	return &StorageError{Op: op, Unit: unit, Err: err}
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// DeliveryError reports a failed transmission of a storage unit to the
// remote sink. The unit stays pending and is retried with backoff.
type DeliveryError struct {
	Unit string // Storage unit identity
	Err  error  // Underlying error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery of %s: %v", e.Unit, e.Err)
	}
	return fmt.Sprintf("delivery of %s failed", e.Unit)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new delivery error.
func NewDeliveryError(unit string, err error) *DeliveryError {
	return &DeliveryError{Unit: unit, Err: err}
}

// IsDeliveryError checks if an error is a DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// MarkerError reports that the delivery marker could not be written after
// the remote sink acknowledged a unit. The unit will be retried; the sink's
// idempotency key prevents a double count at the remote side.
type MarkerError struct {
	Unit string // Storage unit identity
	Err  error  // Underlying error
}

func (e *MarkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery marker for %s: %v", e.Unit, e.Err)
	}
	return fmt.Sprintf("delivery marker for %s failed", e.Unit)
}

func (e *MarkerError) Unwrap() error {
	return e.Err
}

// NewMarkerError creates a new marker error.
func NewMarkerError(unit string, err error) *MarkerError {
	return &MarkerError{Unit: unit, Err: err}
}

// IsMarkerError checks if an error is a MarkerError.
func IsMarkerError(err error) bool {
	var me *MarkerError
	return errors.As(err, &me)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Sentinel errors for common conditions
var (
	// ErrNoBackend indicates that no GPIO backend could be initialized
	ErrNoBackend = errors.New("no gpio backend available")

	// ErrLineClaimed indicates a GPIO line is already claimed elsewhere
	ErrLineClaimed = errors.New("gpio line already claimed")

	// ErrCounterStopped indicates an operation on a stopped pulse counter
	ErrCounterStopped = errors.New("pulse counter stopped")

	// ErrSinkUnconfigured indicates no remote sink is configured
	ErrSinkUnconfigured = errors.New("remote sink not configured")

	// ErrStoreClosed indicates an operation on a closed record store
	ErrStoreClosed = errors.New("record store closed")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timeout")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
