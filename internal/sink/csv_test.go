package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
)

func TestWideCSV_SparseRows(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	t2 := t1.Add(time.Minute)

	w := NewWideCSV("", []core.Key{"a", "b"})
	// Added out of order on purpose.
	w.Add(t2, core.NewMeasurement(map[core.Key]float64{"b": 2}))
	w.Add(t1, core.NewMeasurement(map[core.Key]float64{"a": 1}))

	var buf bytes.Buffer
	if err := w.Flush(&buf); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	want := "timestamp,a,b\n" +
		"2024-03-01T12:00:00,1,\n" +
		"2024-03-01T12:01:00,,2\n"
	if got := buf.String(); got != want {
		t.Errorf("Flush() =\n%s\nwant\n%s", got, want)
	}
}

func TestWideCSV_MergeSameTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

	w := NewWideCSV("", []core.Key{"a", "b"})
	w.WriteRows([]core.Row{
		{Time: ts, Measurement: core.NewMeasurement(map[core.Key]float64{"a": 1})},
		{Time: ts, Measurement: core.NewMeasurement(map[core.Key]float64{"b": 2.5, "c": 9})},
	})
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", w.Len())
	}

	var buf bytes.Buffer
	if err := w.Flush(&buf); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	want := "timestamp,a,b\n2024-03-01T12:00:00,1,2.5\n"
	if got := buf.String(); got != want {
		t.Errorf("Flush() = %q, want %q", got, want)
	}
}

func TestWideCSV_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWideCSV("", []core.Key{"temperature", "humidity"}).Flush(&buf); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := buf.String(); got != "timestamp,temperature,humidity\n" {
		t.Errorf("Flush() = %q", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"whole seconds", base, "2024-01-02T03:04:05"},
		{"milliseconds", base.Add(250 * time.Millisecond), "2024-01-02T03:04:05.250000"},
		{"microseconds", base.Add(1500 * time.Nanosecond), "2024-01-02T03:04:05.000001"},
		{"sub-microsecond dropped", base.Add(999 * time.Nanosecond), "2024-01-02T03:04:05"},
		{"converted to local", base.UTC(), "2024-01-02T03:04:05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimestamp(tt.in); got != tt.want {
				t.Errorf("FormatTimestamp() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWideCSV_WriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry_data.csv")
	if err := os.WriteFile(path, []byte("stale content\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWideCSV(path, []core.Key{core.KeyTemperature})
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	w.Add(ts, core.NewMeasurement(map[core.Key]float64{core.KeyTemperature: 21.5}))
	if err := w.WriteFile(); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "timestamp,temperature_celsius\n2024-03-01T12:00:00,21.5\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("temp files left behind: %s", strings.Join(names, ", "))
	}
}

func temperature(v float64) core.Measurement {
	return core.NewMeasurement(map[core.Key]float64{core.KeyTemperature: v})
}

func TestWideCSV_Write_AppendsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry_data.csv")
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)

	// One sink per run, as with repeated fetch commands.
	for i, v := range []float64{20, 21, 22} {
		w := NewWideCSV(path, []core.Key{core.KeyTemperature})
		if err := w.Write(context.Background(), temperature(v), core.SourceDescriptor{}, t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Write() #%d error = %v", i, err)
		}
		if w.Len() != 0 {
			t.Errorf("Write() #%d held %d rows in memory, want 0", i, w.Len())
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "timestamp,temperature_celsius\n" +
		"2024-01-01T00:00:00,20\n" +
		"2024-01-01T00:01:00,21\n" +
		"2024-01-01T00:02:00,22\n"
	if string(data) != want {
		t.Errorf("file =\n%s\nwant\n%s", data, want)
	}
}

func TestWideCSV_Write_MergesDifferentHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry_data.csv")
	existing := "timestamp,humidity\n2024-01-01T00:00:00,40\n"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWideCSV(path, []core.Key{core.KeyTemperature})
	ts := time.Date(2024, 1, 1, 0, 1, 0, 0, time.Local)
	for i := 0; i < 2; i++ {
		if err := w.Write(context.Background(), temperature(float64(20+i)), core.SourceDescriptor{}, ts.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "timestamp,humidity,temperature_celsius\n" +
		"2024-01-01T00:00:00,40,\n" +
		"2024-01-01T00:01:00,,20\n" +
		"2024-01-01T00:02:00,,21\n"
	if string(data) != want {
		t.Errorf("file =\n%s\nwant\n%s", data, want)
	}
}

func TestWideCSV_Write_RejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.csv")
	if err := os.WriteFile(path, []byte("name,comment\nfoo,bar\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := NewWideCSV(path, []core.Key{core.KeyTemperature}).Write(context.Background(), temperature(20), core.SourceDescriptor{}, time.Now())
	if !errors.Is(err, core.ErrWrite) {
		t.Errorf("Write() error = %v, want ErrWrite", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "name,comment\nfoo,bar\n" {
		t.Errorf("foreign file modified: %q", data)
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, ts := range []time.Time{
		time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local),
		time.Date(2024, 1, 2, 3, 4, 5, 250000000, time.Local),
	} {
		got, err := ParseTimestamp(FormatTimestamp(ts))
		if err != nil || !got.Equal(ts) {
			t.Errorf("ParseTimestamp(FormatTimestamp(%v)) = %v, %v", ts, got, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("ParseTimestamp(yesterday) error = nil")
	}
}

func TestWideCSV_WriteFile_Errors(t *testing.T) {
	if err := NewWideCSV("", nil).WriteFile(); !errors.Is(err, core.ErrConfig) {
		t.Errorf("WriteFile() without path error = %v, want ErrConfig", err)
	}

	missing := filepath.Join(t.TempDir(), "no", "such", "dir", "out.csv")
	if err := NewWideCSV(missing, nil).WriteFile(); !errors.Is(err, core.ErrWrite) {
		t.Errorf("WriteFile() into missing dir error = %v, want ErrWrite", err)
	}
}
