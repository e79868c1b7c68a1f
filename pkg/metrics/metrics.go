// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the edge sensing node.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PulseEdgesTotal tracks accepted (debounced) edges per pulse line
	PulseEdgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_pulse_edges_total",
		Help: "Total number of accepted edges per pulse line",
	}, []string{"line"})

	// PulseEdgesDebounced tracks edges discarded by the debounce filter
	PulseEdgesDebounced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_pulse_edges_debounced_total",
		Help: "Total number of edges discarded by the debounce filter",
	}, []string{"line"})

	// PulseLinesActive tracks the number of pulse lines currently counting
	PulseLinesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_pulse_lines_active",
		Help: "Number of pulse lines with a running counter",
	})

	// AnalogReadErrors tracks failed analog device reads
	AnalogReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_analog_read_errors_total",
		Help: "Total number of failed analog device reads",
	}, []string{"device"})

	// RecordsWritten tracks records appended to local storage
	RecordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_records_written_total",
		Help: "Total number of records appended to local storage",
	})

	// StorageWriteErrors tracks failed local storage appends
	StorageWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_storage_write_errors_total",
		Help: "Total number of failed local storage appends (tick data dropped)",
	})

	// UploadsTotal tracks storage units successfully delivered to the remote sink
	UploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_uploads_total",
		Help: "Total number of storage units delivered to the remote sink",
	})

	// UploadErrors tracks failed delivery attempts
	UploadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_upload_errors_total",
		Help: "Total number of failed delivery attempts",
	})

	// MarkerWriteErrors tracks delivery marker writes that failed after an ack
	MarkerWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_marker_write_errors_total",
		Help: "Total number of delivery marker writes that failed after a successful upload",
	})

	// UploadBacklog tracks the number of undelivered storage units
	UploadBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_upload_backlog",
		Help: "Number of storage units awaiting delivery",
	})

	// TelemetryErrors tracks best-effort telemetry emissions that failed
	TelemetryErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_telemetry_errors_total",
		Help: "Total number of failed telemetry emissions",
	})

	// SampleDuration tracks how long one sampling tick takes
	SampleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edge_sample_duration_seconds",
		Help:    "Duration of one sampling tick in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// UploadDuration tracks how long delivering one storage unit takes
	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "edge_upload_duration_seconds",
		Help:    "Duration of delivering one storage unit in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveBackend reports the selected GPIO backend (value is always 1
	// for the active backend's label)
	ActiveBackend = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edge_gpio_backend_active",
		Help: "Selected GPIO backend (1 for the active backend)",
	}, []string{"backend"})

	// AnalogValue tracks the last calibrated value per analog channel
	AnalogValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edge_analog_value",
		Help: "Last calibrated value per analog channel",
	}, []string{"channel"})
)
