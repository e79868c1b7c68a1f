// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package telemetry publishes best-effort node events (settings dump,
// heartbeat, data summaries) over MQTT. Every failure here is logged and
// counted but never propagated into the sampling or upload paths.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gerritdv/edge-sensing/pkg/logger"
	"github.com/gerritdv/edge-sensing/pkg/metrics"
)

// Event kinds emitted by the node.
const (
	KindSettings  = "settings"
	KindHeartbeat = "heartbeat"
	KindData      = "data"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds, paho's unit
)

// envelope is the wire shape of every telemetry message.
type envelope struct {
	Type     string    `json:"type"`
	DeviceID string    `json:"deviceId"`
	TS       time.Time `json:"ts"`
	Payload  any       `json:"payload"`
}

// Config holds the MQTT connection settings. An empty Broker disables
// telemetry entirely.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
}

// MQTTEmitter publishes envelopes to a single topic.
type MQTTEmitter struct {
	client   mqtt.Client
	topic    string
	deviceID string
}

// NewMQTTEmitter connects to the broker. A connect failure is returned so
// the caller can log it and fall back to the Noop emitter; it is not
// fatal to the node.
func NewMQTTEmitter(cfg Config, deviceID string) (*MQTTEmitter, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %s", connectTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	logger.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).
		Msg("Telemetry connected")

	return &MQTTEmitter{client: client, topic: cfg.Topic, deviceID: deviceID}, nil
}

// Emit publishes one event. QoS 0: a heartbeat that does not arrive is
// not worth blocking the sampling loop for.
func (m *MQTTEmitter) Emit(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(envelope{
		Type:     kind,
		DeviceID: m.deviceID,
		TS:       time.Now().UTC(),
		Payload:  payload,
	})
	if err != nil {
		metrics.TelemetryErrors.Inc()
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}

	token := m.client.Publish(m.topic, 0, false, body)
	if !token.WaitTimeout(publishTimeout) {
		metrics.TelemetryErrors.Inc()
		return fmt.Errorf("publish %s event: timeout after %s", kind, publishTimeout)
	}
	if token.Error() != nil {
		metrics.TelemetryErrors.Inc()
		return fmt.Errorf("publish %s event: %w", kind, token.Error())
	}
	return nil
}

func (m *MQTTEmitter) IsEnabled() bool { return true }

func (m *MQTTEmitter) Close() {
	m.client.Disconnect(disconnectQuiesce)
	logger.Info().Msg("Telemetry disconnected")
}

// Noop is the emitter used when no broker is configured.
type Noop struct{}

func (Noop) Emit(context.Context, string, any) error { return nil }
func (Noop) IsEnabled() bool                         { return false }
func (Noop) Close()                                  {}
