// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package analog reads calibrated values from ADS1115 ADC devices on the
// I2C bus. Each device carries up to four muxed channels; the Manager
// aggregates a snapshot across all configured devices and tolerates
// per-device failures.
package analog

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/gerritdv/edge-sensing/pkg/errors"
	"github.com/gerritdv/edge-sensing/pkg/logger"
)

// ADS1115 register pointers.
const (
	pointerConv   = 0x00
	pointerConfig = 0x01
)

// ChannelConfig is one muxed input on an ADS1115. The calibrated value is
// volts*Scale + Offset.
type ChannelConfig struct {
	Name   string
	Input  int // mux input 0-3
	Scale  float64
	Offset float64
}

// DeviceConfig describes one ADS1115 on the bus.
type DeviceConfig struct {
	Name       string
	Bus        string // i2creg bus name, e.g. "1"
	Address    uint16 // 7-bit address, usually 0x48-0x4B
	Gain       float64
	SampleRate int
	Channels   []ChannelConfig
}

// Device reads calibrated values for its channels. Read may return a
// partial map together with an error when the bus fails midway.
type Device interface {
	Name() string
	ChannelNames() []string
	Read() (map[string]float64, error)
	Close() error
}

// ADS1115 drives one physical converter through periph.io.
type ADS1115 struct {
	cfg  DeviceConfig
	dev  *i2c.Dev
	bus  i2c.BusCloser
	pgaFS float64
	pga   byte
}

// NewADS1115 opens the I2C bus and prepares the device. Bus-open failure
// is returned as DeviceUnavailable; the manager omits the device's
// channels rather than aborting startup.
func NewADS1115(cfg DeviceConfig) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.NewDeviceUnavailableError(cfg.Name, "host init", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, errors.NewDeviceUnavailableError(cfg.Name, "open i2c", err)
	}

	pga, fs := pgaForGain(cfg.Gain)
	d := &ADS1115{
		cfg:   cfg,
		dev:   &i2c.Dev{Addr: cfg.Address, Bus: bus},
		bus:   bus,
		pgaFS: fs,
		pga:   pga,
	}

	logger.Info().Str("device", cfg.Name).Str("bus", cfg.Bus).
		Int("address", int(cfg.Address)).Float64("fs_volts", fs).
		Int("channels", len(cfg.Channels)).Msg("ADS1115 opened")
	return d, nil
}

func (a *ADS1115) Name() string { return a.cfg.Name }

func (a *ADS1115) ChannelNames() []string {
	names := make([]string, 0, len(a.cfg.Channels))
	for _, ch := range a.cfg.Channels {
		names = append(names, ch.Name)
	}
	return names
}

// Read performs one single-shot conversion per channel. On a bus error
// the values read so far are returned alongside the error, so one bad
// transaction does not discard the whole device.
func (a *ADS1115) Read() (map[string]float64, error) {
	out := make(map[string]float64, len(a.cfg.Channels))
	for _, ch := range a.cfg.Channels {
		volts, err := a.readInput(ch.Input)
		if err != nil {
			return out, errors.NewDeviceUnavailableError(a.cfg.Name, fmt.Sprintf("read input %d", ch.Input), err)
		}
		out[ch.Name] = volts*ch.Scale + ch.Offset
	}
	return out, nil
}

// readInput starts a single-shot conversion on one mux input, waits for
// it, and converts the raw code to volts.
func (a *ADS1115) readInput(input int) (float64, error) {
	msb, lsb, err := a.configFor(input)
	if err != nil {
		return 0, err
	}
	if err := a.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}

	rate := a.cfg.SampleRate
	if rate <= 0 {
		rate = 128
	}
	time.Sleep(time.Duration(1000/rate+2) * time.Millisecond)

	readBuf := make([]byte, 2)
	if err := a.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conversion: %w", err)
	}

	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return float64(raw) * a.pgaFS / 32768.0, nil
}

// configFor builds the 16-bit config register for one input: start
// single conversion, mux, PGA, single-shot mode, data rate, comparator
// disabled.
func (a *ADS1115) configFor(input int) (byte, byte, error) {
	if input < 0 || input > 3 {
		return 0, 0, fmt.Errorf("invalid mux input %d", input)
	}
	mux := byte(0x4 + input)

	var dr byte
	switch a.cfg.SampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128, 0:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}

	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(mux) << 12
	config |= uint16(a.pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	config |= 0x3 // comparator disabled
	return byte(config >> 8), byte(config & 0xFF), nil
}

func (a *ADS1115) Close() error {
	if a.bus != nil {
		return a.bus.Close()
	}
	return nil
}

// pgaForGain maps the configured gain to the PGA bits and full-scale
// range in volts.
func pgaForGain(gain float64) (byte, float64) {
	switch {
	case gain > 0 && gain < 1:
		return 0x0, 6.144
	case gain == 2:
		return 0x2, 2.048
	case gain == 4:
		return 0x3, 1.024
	case gain == 8:
		return 0x4, 0.512
	case gain == 16:
		return 0x5, 0.256
	default:
		return 0x1, 4.096
	}
}
