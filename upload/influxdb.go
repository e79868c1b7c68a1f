// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package upload forwards durable storage units to the remote sink and
// marks them delivered. It runs on its own schedule and shares nothing
// with the sampling loop except the record store.
package upload

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gerritdv/edge-sensing/pkg/errors"
	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/storage"
)

const healthCheckTimeout = 5 * time.Second

// InfluxDBSink delivers a storage unit by replaying its rows as points.
// Point identity in InfluxDB is (measurement, tag set, timestamp) and
// writes upsert on identical identity, so re-sending a unit after a lost
// delivery marker overwrites its own prior points instead of
// double-counting them. That property is the sink's idempotency key.
type InfluxDBSink struct {
	client      influxdb2.Client
	write       api.WriteAPIBlocking
	measurement string
	deviceID    string
}

// NewInfluxDBSink connects and verifies the remote store is reachable.
func NewInfluxDBSink(url, token, org, bucket, measurement, deviceID string) (*InfluxDBSink, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("bucket", bucket).Msg("Connected to InfluxDB")

	return &InfluxDBSink{
		client:      client,
		write:       client.WriteAPIBlocking(org, bucket),
		measurement: measurement,
		deviceID:    deviceID,
	}, nil
}

// Send parses the unit's rows and writes them as points. The blocking
// write API is used deliberately: a delivery marker may only be written
// once the sink has actually acknowledged the data.
func (s *InfluxDBSink) Send(ctx context.Context, unit storage.Unit) error {
	records, err := storage.ReadUnit(unit, s.deviceID)
	if err != nil {
		return errors.NewDeliveryError(unit.ID, err)
	}
	if len(records) == 0 {
		logger.Debug().Str("unit", unit.ID).Msg("Unit holds no rows, nothing to send")
		return nil
	}

	points := make([]*write.Point, 0, len(records))
	for _, rec := range records {
		fields := make(map[string]interface{}, len(rec.Analog)+len(rec.Pulses))
		for ch, v := range rec.Analog {
			fields["adc_"+ch] = v
		}
		for name, delta := range rec.Pulses {
			if delta == nil {
				continue // unavailable line, no field at all
			}
			fields["pulse_"+name] = *delta
		}
		if len(fields) == 0 {
			continue
		}

		points = append(points, influxdb2.NewPoint(
			s.measurement,
			map[string]string{
				"device_id": s.deviceID,
				"unit":      unit.ID,
			},
			fields,
			rec.Timestamp,
		))
	}

	if err := s.write.WritePoint(ctx, points...); err != nil {
		return errors.NewDeliveryError(unit.ID, err)
	}

	logger.Info().Str("unit", unit.ID).Int("points", len(points)).
		Msg("Storage unit delivered to InfluxDB")
	return nil
}

// Health checks the remote store is reachable.
func (s *InfluxDBSink) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != "pass" {
		return fmt.Errorf("InfluxDB health status: %s", health.Status)
	}
	return nil
}

// Close closes the client.
func (s *InfluxDBSink) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	s.client.Close()
}
