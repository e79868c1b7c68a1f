// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system
// components. This package promotes loose coupling and testability by
// allowing dependency injection and easy mocking in tests.
package interfaces

import (
	"context"

	"github.com/gerritdv/edge-sensing/storage"
)

// RecordStore defines the durable local storage contract shared by the
// sampling and upload loops. Implementations must support append without
// rewriting prior entries, and must record delivery markers independently
// of the data files so partial delivery state survives a crash.
type RecordStore interface {
	// Append persists one record under the current time bucket
	Append(rec *storage.Record) error

	// ListUndelivered returns closed units without a marker, oldest first
	ListUndelivered() ([]storage.Unit, error)

	// MarkDelivered durably records a successful delivery of a unit
	MarkDelivered(unit string) error

	// IsDelivered reports whether a unit carries a delivery marker
	IsDelivered(unit string) bool

	// Close flushes and closes the store
	Close() error
}

// RemoteSink defines the remote delivery contract. Send must be
// idempotent per unit: re-sending a unit that the sink already holds must
// not make the remote side observe a second delivery. The unit ID is the
// idempotency key.
type RemoteSink interface {
	// Send transmits one storage unit and returns once the sink has
	// acknowledged it
	Send(ctx context.Context, unit storage.Unit) error

	// Health checks whether the sink is reachable
	Health(ctx context.Context) error

	// Close releases the sink's resources
	Close()
}
