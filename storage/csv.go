// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gerritdv/edge-sensing/pkg/errors"
	"github.com/gerritdv/edge-sensing/pkg/logger"
)

const (
	dataFileExt   = ".csv"
	markerFileExt = ".ok"
	bucketLayout  = "2006-01-02"

	// naValue marks "no data" in a column. It is deliberately not "0":
	// a stalled pulse line and a quiet one must stay distinguishable.
	naValue = "NA"

	timestampColumn = "timestamp_utc"
	pulseColPrefix  = "pulse_"
	pulseColSuffix  = "_count"
	adcColPrefix    = "adc_"
	adcColSuffix    = "_voltage_v"
)

// Store is the append-only CSV record store. One file per UTC day per
// device; every append is flushed and fsynced so a power cut costs at most
// the row being written. Safe for use from both loops.
type Store struct {
	dir          string
	deviceID     string
	pulseNames   []string
	channelNames []string

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	bucket string // date of the currently open file
	closed bool

	now func() time.Time // replaced in tests
}

// NewStore opens (or creates) the store directory. Column order is fixed
// at construction from the configured pulse and channel names; records are
// serialized in that order regardless of map iteration.
//
// An unwritable directory is the one fatal startup condition in this
// system, so the error here should abort init.
func NewStore(dir, deviceID string, pulseNames, channelNames []string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorageError("mkdir", "", err)
	}

	s := &Store{
		dir:          dir,
		deviceID:     deviceID,
		pulseNames:   append([]string(nil), pulseNames...),
		channelNames: append([]string(nil), channelNames...),
		now:          time.Now,
	}

	logger.Info().Str("dir", dir).Str("device_id", deviceID).
		Int("pulse_columns", len(pulseNames)).
		Int("adc_columns", len(channelNames)).
		Msg("Record store opened")

	return s, nil
}

// header builds the CSV header row in column order.
func (s *Store) header() []string {
	cols := []string{timestampColumn}
	for _, name := range s.pulseNames {
		cols = append(cols, pulseColPrefix+name+pulseColSuffix)
	}
	for _, name := range s.channelNames {
		cols = append(cols, adcColPrefix+name+adcColSuffix)
	}
	return cols
}

// bucketFor returns the day bucket a timestamp belongs to.
func bucketFor(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}

// unitName builds the storage unit identity for a bucket.
func (s *Store) unitName(bucket string) string {
	return bucket + "_" + s.deviceID + dataFileExt
}

// Append serializes one record into the current day bucket, rotating the
// file when the day rolls over. The row is flushed and fsynced before
// Append returns.
func (s *Store) Append(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.NewStorageError("append", "", errors.ErrStoreClosed)
	}

	bucket := bucketFor(rec.Timestamp)
	if err := s.rotateLocked(bucket); err != nil {
		return err
	}

	row := make([]string, 0, 1+len(s.pulseNames)+len(s.channelNames))
	row = append(row, rec.Timestamp.UTC().Format(time.RFC3339Nano))
	for _, name := range s.pulseNames {
		delta := rec.Pulses[name]
		if delta == nil {
			row = append(row, naValue)
		} else {
			row = append(row, strconv.FormatInt(*delta, 10))
		}
	}
	for _, name := range s.channelNames {
		value, ok := rec.Analog[name]
		if !ok {
			row = append(row, naValue)
		} else {
			row = append(row, strconv.FormatFloat(value, 'g', -1, 64))
		}
	}

	if err := s.writer.Write(row); err != nil {
		return errors.NewStorageError("append", s.unitName(bucket), err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return errors.NewStorageError("append", s.unitName(bucket), err)
	}
	if err := s.file.Sync(); err != nil {
		return errors.NewStorageError("sync", s.unitName(bucket), err)
	}

	return nil
}

// rotateLocked ensures the open file matches the wanted bucket, writing a
// header when a new file is created. Caller holds s.mu.
func (s *Store) rotateLocked(bucket string) error {
	if s.file != nil && s.bucket == bucket {
		return nil
	}

	if s.file != nil {
		s.writer.Flush()
		if err := s.file.Close(); err != nil {
			logger.Warn().Err(err).Str("bucket", s.bucket).Msg("Closing previous bucket file failed")
		}
		logger.Info().Str("bucket", s.bucket).Msg("Closed day bucket, now eligible for upload")
		s.file = nil
	}

	unit := s.unitName(bucket)
	path := filepath.Join(s.dir, unit)
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.NewStorageError("open", unit, err)
	}

	s.file = f
	s.writer = csv.NewWriter(f)
	s.bucket = bucket

	if isNew {
		if err := s.writer.Write(s.header()); err != nil {
			return errors.NewStorageError("write header", unit, err)
		}
		s.writer.Flush()
		if err := s.file.Sync(); err != nil {
			return errors.NewStorageError("sync", unit, err)
		}
		logger.Info().Str("unit", unit).Msg("Opened new day bucket")
	}

	return nil
}

// ListUndelivered returns closed storage units without a delivery marker,
// oldest first. The bucket currently receiving appends is never listed:
// a marker must cover every row in its unit, so only closed buckets are
// upload candidates.
func (s *Store) ListUndelivered() ([]Unit, error) {
	s.mu.Lock()
	current := s.unitName(bucketFor(s.now()))
	s.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(s.dir, "*"+dataFileExt))
	if err != nil {
		return nil, errors.NewStorageError("list", "", err)
	}

	var units []Unit
	for _, path := range files {
		id := filepath.Base(path)
		if id == current {
			continue
		}
		if s.IsDelivered(id) {
			continue
		}
		units = append(units, Unit{ID: id, Path: path})
	}

	// Day-bucket names start with the date, so name order is time order.
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })

	return units, nil
}

// MarkDelivered durably records that a unit reached the remote sink. The
// marker is written and fsynced before MarkDelivered returns; until that
// happens the unit stays a re-upload candidate.
func (s *Store) MarkDelivered(unit string) error {
	path := filepath.Join(s.dir, unit+markerFileExt)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.NewMarkerError(unit, err)
	}
	if _, err := f.WriteString(s.now().UTC().Format(time.RFC3339) + "\n"); err != nil {
		f.Close()
		return errors.NewMarkerError(unit, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.NewMarkerError(unit, err)
	}
	if err := f.Close(); err != nil {
		return errors.NewMarkerError(unit, err)
	}

	logger.Debug().Str("unit", unit).Msg("Delivery marker written")
	return nil
}

// IsDelivered reports whether a unit carries a delivery marker.
func (s *Store) IsDelivered(unit string) bool {
	_, err := os.Stat(filepath.Join(s.dir, unit+markerFileExt))
	return err == nil
}

// Close flushes and closes the open bucket file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	if err := s.file.Sync(); err != nil {
		logger.Warn().Err(err).Msg("Final sync failed on close")
	}
	err := s.file.Close()
	s.file = nil
	logger.Info().Msg("Record store closed")
	return err
}

// ReadUnit parses a storage unit's rows back into records. The upload
// sink uses this to replay a unit's contents; NA cells come back as an
// absent analog value or a nil pulse delta.
func ReadUnit(unit Unit, deviceID string) ([]Record, error) {
	f, err := os.Open(unit.Path)
	if err != nil {
		return nil, errors.NewStorageError("read", unit.ID, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.NewStorageError("read", unit.ID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	records := make([]Record, 0, len(rows)-1)

	for _, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, errors.NewStorageError("read", unit.ID,
				fmt.Errorf("row has %d columns, header has %d", len(row), len(header)))
		}

		rec := Record{
			DeviceID: deviceID,
			Analog:   make(map[string]float64),
			Pulses:   make(map[string]*int64),
		}

		for i, col := range header {
			cell := row[i]
			switch {
			case col == timestampColumn:
				ts, parseErr := time.Parse(time.RFC3339Nano, cell)
				if parseErr != nil {
					return nil, errors.NewStorageError("read", unit.ID, parseErr)
				}
				rec.Timestamp = ts
			case strings.HasPrefix(col, pulseColPrefix) && strings.HasSuffix(col, pulseColSuffix):
				name := strings.TrimSuffix(strings.TrimPrefix(col, pulseColPrefix), pulseColSuffix)
				if cell == naValue {
					rec.Pulses[name] = nil
					continue
				}
				n, parseErr := strconv.ParseInt(cell, 10, 64)
				if parseErr != nil {
					return nil, errors.NewStorageError("read", unit.ID, parseErr)
				}
				rec.Pulses[name] = &n
			case strings.HasPrefix(col, adcColPrefix) && strings.HasSuffix(col, adcColSuffix):
				if cell == naValue {
					continue
				}
				name := strings.TrimSuffix(strings.TrimPrefix(col, adcColPrefix), adcColSuffix)
				v, parseErr := strconv.ParseFloat(cell, 64)
				if parseErr != nil {
					return nil, errors.NewStorageError("read", unit.ID, parseErr)
				}
				rec.Analog[name] = v
			}
		}

		records = append(records, rec)
	}

	return records, nil
}
