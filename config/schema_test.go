// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSchemaTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateWithSchemaValid(t *testing.T) {
	path := writeSchemaTestConfig(t, `
device_id: garden-node-1
sampling:
  period: 60s
  align: true
logging:
  level: info
storage:
  dir: /var/lib/edge-sensing
analog:
  devices:
    - name: adc0
      driver: ads1115
      bus: "1"
      address: 72
      gain: 1
      sample_rate: 128
      channels:
        - name: battery
          input: 0
          scale: 2.0
pulses:
  enabled: true
  backends: [cdev, periph]
  chip_priority: [0, 4]
  lines:
    - name: flow
      line: 17
      edge: falling
      pull: up
      debounce: 5ms
upload:
  period: 5m
influxdb:
  url: https://influx.example.com:8086
  token: test-token-long-enough
  organization: farm
  bucket: sensors
`)

	if err := ValidateWithSchema(path); err != nil {
		t.Errorf("ValidateWithSchema() error = %v", err)
	}
}

func TestValidateWithSchemaRejectsUnknownField(t *testing.T) {
	path := writeSchemaTestConfig(t, `
device_id: garden-node-1
storage:
  dir: /var/lib/edge-sensing
sampling:
  interval: 60s
`)

	err := ValidateWithSchema(path)
	if err == nil {
		t.Fatal("unknown field should fail schema validation")
	}
	if !strings.Contains(err.Error(), "sampling") {
		t.Errorf("error should name the offending section, got: %v", err)
	}
}

func TestValidateWithSchemaRejectsBadEnum(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "bad log level",
			yaml: "device_id: n1\nstorage:\n  dir: /tmp/x\nlogging:\n  level: chatty\n",
		},
		{
			name: "bad edge",
			yaml: "device_id: n1\nstorage:\n  dir: /tmp/x\npulses:\n  lines:\n    - name: flow\n      line: 17\n      edge: both\n",
		},
		{
			name: "bad driver",
			yaml: "device_id: n1\nstorage:\n  dir: /tmp/x\nanalog:\n  devices:\n    - name: adc0\n      driver: mcp3008\n      channels:\n        - name: battery\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSchemaTestConfig(t, tt.yaml)
			if err := ValidateWithSchema(path); err == nil {
				t.Error("expected schema validation failure")
			}
		})
	}
}

func TestValidateWithSchemaMissingRequired(t *testing.T) {
	path := writeSchemaTestConfig(t, "sampling:\n  period: 60s\n")
	if err := ValidateWithSchema(path); err == nil {
		t.Error("missing device_id and storage should fail")
	}
}

func TestGetSchemaJSON(t *testing.T) {
	schema := GetSchemaJSON()
	if !strings.Contains(schema, "device_id") {
		t.Error("embedded schema should describe device_id")
	}
}
