package core

import (
	"context"
	"sort"
	"time"
)

// Key is a canonical measurement name. The unit is part of the name so a
// value can never be read in the wrong unit.
type Key string

// Canonical keys for process stream properties.
const (
	KeyTemperature    Key = "temperature_celsius"
	KeyPressure       Key = "pressure_bar"
	KeyMassFlow       Key = "mass_flow_kg_s"
	KeyDensity        Key = "density_kg_m3"
	KeyEnthalpy       Key = "enthalpy_kj_kg"
	KeyMolarFlow      Key = "molar_flow_kmol_h"
	KeyVolumetricFlow Key = "volumetric_flow_m3_h"
	KeyHumidity       Key = "humidity_percent"
)

// KeyPumpStatus is the gateway pump relay, 1 for on and 0 for off.
const KeyPumpStatus Key = "pump_status"

// Measurement is an immutable set of canonical values. A key that is not
// present is unknown, never zero.
type Measurement struct {
	values map[Key]float64
}

// NewMeasurement copies values into a new Measurement.
func NewMeasurement(values map[Key]float64) Measurement {
	m := Measurement{values: make(map[Key]float64, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// Get returns the value for key and whether it is present.
func (m Measurement) Get(key Key) (float64, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of present keys.
func (m Measurement) Len() int { return len(m.values) }

// IsEmpty reports whether no key is present. An empty measurement is treated
// as absent data by the pipeline.
func (m Measurement) IsEmpty() bool { return len(m.values) == 0 }

// Keys returns the present keys in lexical order.
func (m Measurement) Keys() []Key {
	keys := make([]Key, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Values returns a copy of the underlying map.
func (m Measurement) Values() map[Key]float64 {
	out := make(map[Key]float64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Only returns a measurement restricted to the given keys.
func (m Measurement) Only(keys ...Key) Measurement {
	out := Measurement{values: make(map[Key]float64, len(keys))}
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out.values[k] = v
		}
	}
	return out
}

// SourceDescriptor identifies where a measurement came from. Stream and
// Simulation are attached as tags when the measurement is written.
type SourceDescriptor struct {
	Stream     string `json:"stream"`
	Simulation string `json:"simulation"`
	Kind       string `json:"kind"`
}

// Tags returns the descriptor as time-series tags. Empty values are omitted.
func (d SourceDescriptor) Tags() map[string]string {
	tags := make(map[string]string, 2)
	if d.Stream != "" {
		tags["stream"] = d.Stream
	}
	if d.Simulation != "" {
		tags["simulation"] = d.Simulation
	}
	return tags
}

// Row pairs a measurement with its origin timestamp.
type Row struct {
	Time        time.Time
	Measurement Measurement
}

// Trigger names what started a sampling cycle.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerFile   Trigger = "file"
	TriggerManual Trigger = "manual"
)

// Sample describes one sampling cycle.
type Sample struct {
	Seq       uint64
	Trigger   Trigger
	Path      string // changed file, empty for timer and manual triggers
	StartedAt time.Time
}

// Source produces one measurement per call. ok=false with a nil error means
// the source has no data for this cycle.
type Source interface {
	Fetch(ctx context.Context) (m Measurement, ok bool, err error)
	Describe() SourceDescriptor
}

// RangeSource is implemented by sources that can return history.
// Rows are ordered by ascending time; keys lists the columns in request order.
type RangeSource interface {
	FetchRange(ctx context.Context, start, end time.Time) (rows []Row, keys []Key, err error)
}

// Checker is implemented by sources that can verify connectivity without
// producing a measurement.
type Checker interface {
	Check(ctx context.Context) error
}

// Sink persists one measurement.
type Sink interface {
	Write(ctx context.Context, m Measurement, src SourceDescriptor, ts time.Time) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, m Measurement, src SourceDescriptor, ts time.Time) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, m Measurement, src SourceDescriptor, ts time.Time) error {
	return f(ctx, m, src, ts)
}
