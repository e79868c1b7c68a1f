// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage provides the durable local record store: append-only CSV
// files bucketed by UTC day, with sidecar delivery markers. The sampling
// loop appends to it and the upload loop drains it; the two never talk to
// each other directly.
package storage

import "time"

// Record is one sampling tick's merged result. It is immutable once
// created: the collector builds it, Append persists it, and nothing
// mutates it afterwards.
type Record struct {
	Timestamp time.Time
	DeviceID  string

	// Analog holds calibrated values keyed by channel name. A channel
	// that failed for this tick is simply absent.
	Analog map[string]float64

	// Pulses holds per-line debounced edge deltas for this tick. A nil
	// value means the line had no active backend; that is distinct from
	// a delta of zero.
	Pulses map[string]*int64
}

// Unit identifies one durable storage unit (a closed day bucket) eligible
// for upload. ID doubles as the delivery idempotency key.
type Unit struct {
	ID   string // file name, e.g. "2026-08-26_pi-node-01.csv"
	Path string // absolute path to the data file
}

// Delta is a convenience for building pulse maps.
func Delta(n int64) *int64 { return &n }
