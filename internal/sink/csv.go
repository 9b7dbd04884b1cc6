package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// Timestamp layouts for CSV rows: local time without zone, microseconds
// only when present.
const (
	csvTimeLayout      = "2006-01-02T15:04:05"
	csvTimeLayoutMicro = "2006-01-02T15:04:05.000000"
)

// WideCSV accumulates records keyed by timestamp and renders them as one
// table with a column per key. Batch use goes through Add, WriteRows and
// WriteFile; as a cycle sink, Write appends one row per record to the file.
type WideCSV struct {
	mu       sync.Mutex
	path     string
	keys     []core.Key
	rows     map[int64]map[core.Key]float64 // unix nanos -> values
	appendOK bool                           // file header matches keys
}

// NewWideCSV creates a wide CSV sink. Columns follow keys in order; path
// is used by WriteFile and may be empty for Flush-only use.
func NewWideCSV(path string, keys []core.Key) *WideCSV {
	return &WideCSV{
		path: path,
		keys: append([]core.Key(nil), keys...),
		rows: make(map[int64]map[core.Key]float64),
	}
}

// Path returns the output file.
func (w *WideCSV) Path() string { return w.path }

// Len returns the number of distinct timestamps held.
func (w *WideCSV) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

// Add merges m into the row at ts. Later values for a key replace earlier
// ones at the same timestamp.
func (w *WideCSV) Add(ts time.Time, m core.Measurement) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.add(ts, m)
}

func (w *WideCSV) add(ts time.Time, m core.Measurement) {
	key := ts.UnixNano()
	row, ok := w.rows[key]
	if !ok {
		row = make(map[core.Key]float64, m.Len())
		w.rows[key] = row
	}
	for k, v := range m.Values() {
		row[k] = v
	}
}

// WriteRows adds a batch of timestamped records.
func (w *WideCSV) WriteRows(rows []core.Row) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range rows {
		w.add(r.Time, r.Measurement)
	}
}

// Write implements core.Sink by appending one row to the file. The first
// write adopts an existing file: a matching header is appended to as is,
// any other table is merged under a combined header and rewritten once.
func (w *WideCSV) Write(ctx context.Context, m core.Measurement, _ core.SourceDescriptor, ts time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.appendOK {
		if err := w.adopt(); err != nil {
			return err
		}
		w.appendOK = true
	}

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		w.appendOK = false
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(w.record(ts.UnixNano(), m.Values())); err != nil {
		f.Close()
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	logging.FromContext(ctx).Debug("csv row appended", "path", w.path)
	return nil
}

// adopt prepares the file for appending. Caller holds mu.
func (w *WideCSV) adopt() error {
	if w.path == "" {
		return fmt.Errorf("csv: %w: no output file configured", core.ErrConfig)
	}
	records, err := readTable(w.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(records) == 0) {
		return w.writeFile()
	}
	if err != nil {
		return err
	}

	header := records[0]
	if len(header) == 0 || header[0] != "timestamp" {
		return fmt.Errorf("csv: %w: %s is not a recorder table", core.ErrWrite, w.path)
	}
	if sameHeader(header[1:], w.keys) {
		return nil
	}

	// Existing columns keep their order; new keys follow.
	merged := make([]core.Key, 0, len(header)-1+len(w.keys))
	seen := make(map[core.Key]bool, cap(merged))
	for _, h := range header[1:] {
		k := core.Key(h)
		if !seen[k] {
			seen[k] = true
			merged = append(merged, k)
		}
	}
	for _, k := range w.keys {
		if !seen[k] {
			seen[k] = true
			merged = append(merged, k)
		}
	}

	rows := make(map[int64]map[core.Key]float64, len(records)-1)
	for n, rec := range records[1:] {
		if len(rec) == 0 || rec[0] == "" {
			continue
		}
		ts, err := ParseTimestamp(rec[0])
		if err != nil {
			return fmt.Errorf("csv: %w: %s row %d: %v", core.ErrWrite, w.path, n+2, err)
		}
		row := rows[ts.UnixNano()]
		if row == nil {
			row = make(map[core.Key]float64, len(rec)-1)
			rows[ts.UnixNano()] = row
		}
		for i, cell := range rec[1:] {
			if i+1 >= len(header) || cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return fmt.Errorf("csv: %w: %s row %d: %v", core.ErrWrite, w.path, n+2, err)
			}
			row[core.Key(header[i+1])] = v
		}
	}

	held := w.rows
	for ts, row := range held {
		dst := rows[ts]
		if dst == nil {
			rows[ts] = row
			continue
		}
		for k, v := range row {
			dst[k] = v
		}
	}
	w.keys, w.rows = merged, rows
	err = w.writeFile()
	w.rows = make(map[int64]map[core.Key]float64)
	return err
}

func readTable(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: %w: %s: %v", core.ErrWrite, path, err)
	}
	return records, nil
}

func sameHeader(cols []string, keys []core.Key) bool {
	if len(cols) != len(keys) {
		return false
	}
	for i, k := range keys {
		if cols[i] != string(k) {
			return false
		}
	}
	return true
}

// record renders one row in column order.
func (w *WideCSV) record(ts int64, values map[core.Key]float64) []string {
	record := make([]string, len(w.keys)+1)
	record[0] = FormatTimestamp(time.Unix(0, ts))
	for i, k := range w.keys {
		if v, ok := values[k]; ok {
			record[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return record
}

// Flush writes the header and one row per timestamp in ascending order.
func (w *WideCSV) Flush(out io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush(out)
}

func (w *WideCSV) flush(out io.Writer) error {
	cw := csv.NewWriter(out)

	header := make([]string, 0, len(w.keys)+1)
	header = append(header, "timestamp")
	for _, k := range w.keys {
		header = append(header, string(k))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}

	stamps := make([]int64, 0, len(w.rows))
	for ts := range w.rows {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	for _, ts := range stamps {
		if err := cw.Write(w.record(ts, w.rows[ts])); err != nil {
			return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	return nil
}

// WriteFile writes the table to the sink path through a temp file and a
// rename, so readers never see a partial file.
func (w *WideCSV) WriteFile() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeFile()
}

func (w *WideCSV) writeFile() error {
	if w.path == "" {
		return fmt.Errorf("csv: %w: no output file configured", core.ErrConfig)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*")
	if err != nil {
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := w.flush(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("csv: %w: %v", core.ErrWrite, err)
	}
	return nil
}

// FormatTimestamp renders t as ISO-8601 local time without a zone.
func FormatTimestamp(t time.Time) string {
	t = t.Local()
	if t.Nanosecond()/1000 != 0 {
		return t.Format(csvTimeLayoutMicro)
	}
	return t.Format(csvTimeLayout)
}

// ParseTimestamp reads a timestamp written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	layout := csvTimeLayout
	if len(s) > len(csvTimeLayout) {
		layout = csvTimeLayoutMicro
	}
	return time.ParseInLocation(layout, s, time.Local)
}
