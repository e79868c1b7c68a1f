// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "node-1", []string{"flow"}, []string{"battery"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestAppendWritesHeaderAndRow(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.Append(&Record{
		Timestamp: ts,
		DeviceID:  "node-1",
		Analog:    map[string]float64{"battery": 3.72},
		Pulses:    map[string]*int64{"flow": Delta(7)},
	}))

	rows := readRows(t, filepath.Join(s.dir, "2026-08-25_node-1.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"timestamp_utc", "pulse_flow_count", "adc_battery_voltage_v"}, rows[0])
	assert.Equal(t, []string{"2026-08-25T10:30:00Z", "7", "3.72"}, rows[1])
}

func TestAppendNASentinels(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.Append(&Record{
		Timestamp: ts,
		DeviceID:  "node-1",
		Analog:    map[string]float64{}, // battery read failed
		Pulses:    map[string]*int64{"flow": nil},
	}))
	require.NoError(t, s.Append(&Record{
		Timestamp: ts.Add(time.Minute),
		DeviceID:  "node-1",
		Analog:    map[string]float64{"battery": 3.7},
		Pulses:    map[string]*int64{"flow": Delta(0)},
	}))

	rows := readRows(t, filepath.Join(s.dir, "2026-08-25_node-1.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2026-08-25T10:30:00Z", "NA", "NA"}, rows[1])
	// A zero count is a real observation and must not collapse into NA.
	assert.Equal(t, "0", rows[2][1])
}

func TestAppendRotatesOnDayChange(t *testing.T) {
	s := newTestStore(t)

	day1 := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 25, 0, 1, 0, 0, time.UTC)

	require.NoError(t, s.Append(&Record{Timestamp: day1, DeviceID: "node-1"}))
	require.NoError(t, s.Append(&Record{Timestamp: day2, DeviceID: "node-1"}))

	assert.FileExists(t, filepath.Join(s.dir, "2026-08-24_node-1.csv"))
	assert.FileExists(t, filepath.Join(s.dir, "2026-08-25_node-1.csv"))

	// Each file carries its own header.
	for _, name := range []string{"2026-08-24_node-1.csv", "2026-08-25_node-1.csv"} {
		rows := readRows(t, filepath.Join(s.dir, name))
		require.Len(t, rows, 2, name)
		assert.Equal(t, "timestamp_utc", rows[0][0])
	}
}

func TestAppendToExistingFileSkipsHeader(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)

	s, err := NewStore(dir, "node-1", []string{"flow"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(&Record{Timestamp: ts, DeviceID: "node-1"}))
	require.NoError(t, s.Close())

	// A restart reopens the same bucket and must append, not truncate or
	// re-write the header.
	s2, err := NewStore(dir, "node-1", []string{"flow"}, nil)
	require.NoError(t, err)
	require.NoError(t, s2.Append(&Record{Timestamp: ts.Add(time.Minute), DeviceID: "node-1"}))
	require.NoError(t, s2.Close())

	rows := readRows(t, filepath.Join(dir, "2026-08-25_node-1.csv"))
	assert.Len(t, rows, 3)
}

func TestListUndeliveredExcludesCurrentBucket(t *testing.T) {
	s := newTestStore(t)

	day1 := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	for _, ts := range []time.Time{day1, day2, day3} {
		require.NoError(t, s.Append(&Record{Timestamp: ts, DeviceID: "node-1"}))
	}

	// Clock says day3's bucket is still open.
	s.now = func() time.Time { return day3 }

	units, err := s.ListUndelivered()
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "2026-08-23_node-1.csv", units[0].ID, "oldest first")
	assert.Equal(t, "2026-08-24_node-1.csv", units[1].ID)

	// Once the clock moves past day3, its bucket becomes a candidate too.
	s.now = func() time.Time { return day3.Add(24 * time.Hour) }
	units, err = s.ListUndelivered()
	require.NoError(t, err)
	assert.Len(t, units, 3)
}

func TestMarkDelivered(t *testing.T) {
	s := newTestStore(t)

	day1 := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(&Record{Timestamp: day1, DeviceID: "node-1"}))
	require.NoError(t, s.Append(&Record{Timestamp: day2, DeviceID: "node-1"}))
	s.now = func() time.Time { return day2 }

	unit := "2026-08-24_node-1.csv"
	assert.False(t, s.IsDelivered(unit))

	require.NoError(t, s.MarkDelivered(unit))
	assert.True(t, s.IsDelivered(unit))
	assert.FileExists(t, filepath.Join(s.dir, unit+".ok"))

	// Marked units disappear from the undelivered list; the data file
	// itself is retained.
	units, err := s.ListUndelivered()
	require.NoError(t, err)
	assert.Empty(t, units)
	assert.FileExists(t, filepath.Join(s.dir, unit))

	// Marking twice is idempotent.
	assert.NoError(t, s.MarkDelivered(unit))
}

func TestAppendAfterClose(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	err := s.Append(&Record{Timestamp: time.Now(), DeviceID: "node-1"})
	assert.Error(t, err)
}

func TestReadUnitRoundTrip(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.Append(&Record{
		Timestamp: ts,
		DeviceID:  "node-1",
		Analog:    map[string]float64{"battery": 3.72},
		Pulses:    map[string]*int64{"flow": Delta(7)},
	}))
	require.NoError(t, s.Append(&Record{
		Timestamp: ts.Add(time.Minute),
		DeviceID:  "node-1",
		Analog:    map[string]float64{},
		Pulses:    map[string]*int64{"flow": nil},
	}))

	unit := Unit{ID: "2026-08-25_node-1.csv", Path: filepath.Join(s.dir, "2026-08-25_node-1.csv")}
	records, err := ReadUnit(unit, "node-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, ts, records[0].Timestamp)
	assert.Equal(t, 3.72, records[0].Analog["battery"])
	require.NotNil(t, records[0].Pulses["flow"])
	assert.Equal(t, int64(7), *records[0].Pulses["flow"])

	// NA cells survive the round trip as "no data".
	_, hasBattery := records[1].Analog["battery"]
	assert.False(t, hasBattery)
	assert.Nil(t, records[1].Pulses["flow"])
}
