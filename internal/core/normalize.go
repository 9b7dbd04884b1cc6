package core

import (
	"math"
	"strings"
)

// Field is one column of a schema.
type Field struct {
	Key  Key
	Unit Unit
}

// Schema is the ordered set of keys a normalizer produces.
type Schema []Field

// DefaultSchema returns the canonical process stream schema.
func DefaultSchema() Schema {
	return Schema{
		{KeyTemperature, UnitCelsius},
		{KeyPressure, UnitBar},
		{KeyMassFlow, UnitKgPerS},
		{KeyDensity, UnitKgPerM3},
		{KeyEnthalpy, UnitKJPerKg},
		{KeyMolarFlow, UnitKmolPerH},
		{KeyVolumetricFlow, UnitM3PerH},
		{KeyHumidity, UnitPercent},
	}
}

// PassthroughSchema builds a dimensionless schema for platform telemetry keys
// whose values are forwarded unchanged.
func PassthroughSchema(keys []string) Schema {
	s := make(Schema, 0, len(keys))
	seen := make(map[Key]bool, len(keys))
	for _, k := range keys {
		key := Key(strings.TrimSpace(k))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		s = append(s, Field{Key: key, Unit: UnitNone})
	}
	return s
}

// Keys returns the schema keys in order.
func (s Schema) Keys() []Key {
	keys := make([]Key, len(s))
	for i, f := range s {
		keys[i] = f.Key
	}
	return keys
}

// Unit returns the canonical unit for key.
func (s Schema) Unit(key Key) (Unit, bool) {
	for _, f := range s {
		if f.Key == key {
			return f.Unit, true
		}
	}
	return UnitNone, false
}

// Quantity is a raw value in its source unit.
type Quantity struct {
	Value float64
	Unit  Unit
}

// RawFields holds adapter-level values keyed by adapter field name.
type RawFields map[string]Quantity

// FieldMap maps adapter field names to canonical keys.
type FieldMap map[string]Key

// Normalizer converts raw adapter fields into a canonical Measurement.
type Normalizer struct {
	schema Schema
	fields FieldMap
	table  ConversionTable
}

// NewNormalizer creates a normalizer. A nil table uses DefaultConversions.
func NewNormalizer(schema Schema, fields FieldMap, table ConversionTable) *Normalizer {
	if table == nil {
		table = DefaultConversions()
	}
	return &Normalizer{schema: schema, fields: fields, table: table}
}

// Schema returns the schema the normalizer produces.
func (n *Normalizer) Schema() Schema { return n.schema }

// Normalize maps and converts raw fields. Fields without a mapping, keys
// outside the schema, unconvertible units and non-finite values are dropped.
// A field name that is itself a schema key maps to that key.
func (n *Normalizer) Normalize(raw RawFields) Measurement {
	out := make(map[Key]float64, len(raw))
	for name, q := range raw {
		key, ok := n.fields[name]
		if !ok {
			key = Key(name)
		}
		unit, ok := n.schema.Unit(key)
		if !ok {
			continue
		}
		v, ok := n.table.Convert(q.Value, q.Unit, unit)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[key] = v
	}
	return Measurement{values: out}
}
