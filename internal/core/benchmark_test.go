package core

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// ============================================================================
// Conversion Benchmarks
// ============================================================================

// BenchmarkParseNumber benchmarks export cell parsing.
// Every delimited export cell passes through it.
func BenchmarkParseNumber(b *testing.B) {
	testCases := []string{
		"298.15",
		"-1.5e5",
		"25,5",      // decimal comma
		"1.013,25",  // thousands dot, decimal comma
		"  101325 ", // whitespace
		"=\"30\"",   // Excel formula cell
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseNumber(tc)
		}
	}
}

// BenchmarkParseNumber_Simple benchmarks the common case: a plain decimal.
func BenchmarkParseNumber_Simple(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseNumber("298.15")
	}
}

// BenchmarkSplitValueUnit benchmarks "value unit" text fields.
func BenchmarkSplitValueUnit(b *testing.B) {
	testCases := []string{"298.15 K", "1.2 bar", "3600 kg/h", "25 °C", "0.997 g/cm³"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			SplitValueUnit(tc)
		}
	}
}

// BenchmarkParseUnit benchmarks unit spelling resolution.
func BenchmarkParseUnit(b *testing.B) {
	testCases := []string{"K", "degC", "kg/hr", "m³/h", "kPa", "%RH"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseUnit(tc)
		}
	}
}

// BenchmarkConvert benchmarks table lookups for the archive units.
func BenchmarkConvert(b *testing.B) {
	table := DefaultConversions()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		table.Convert(298.15, UnitKelvin, UnitCelsius)
		table.Convert(101325, UnitPascal, UnitBar)
		table.Convert(3600, UnitKgPerH, UnitKgPerS)
	}
}

// ============================================================================
// Normalizer Benchmarks
// ============================================================================

func archiveFields() RawFields {
	return RawFields{
		"temperature":    {Value: 298.15, Unit: UnitKelvin},
		"pressure":       {Value: 101325, Unit: UnitPascal},
		"massflow":       {Value: 2, Unit: UnitKgPerS},
		"density":        {Value: 997, Unit: UnitKgPerM3},
		"enthalpy":       {Value: 104890, Unit: UnitJPerKg},
		"molarflow":      {Value: 0.111, Unit: UnitKmolPerS},
		"volumetricflow": {Value: 0.002, Unit: UnitM3PerS},
		"unknown":        {Value: 1, Unit: UnitNone},
	}
}

var archiveFieldMap = FieldMap{
	"temperature":    KeyTemperature,
	"pressure":       KeyPressure,
	"massflow":       KeyMassFlow,
	"density":        KeyDensity,
	"enthalpy":       KeyEnthalpy,
	"molarflow":      KeyMolarFlow,
	"volumetricflow": KeyVolumetricFlow,
}

// BenchmarkNormalize benchmarks one full archive record.
func BenchmarkNormalize(b *testing.B) {
	n := NewNormalizer(DefaultSchema(), archiveFieldMap, nil)
	raw := archiveFields()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n.Normalize(raw)
	}
}

// BenchmarkNormalize_Passthrough benchmarks REST telemetry values.
func BenchmarkNormalize_Passthrough(b *testing.B) {
	n := NewNormalizer(PassthroughSchema([]string{"temperature", "humidity"}), nil, nil)
	raw := RawFields{"temperature": {Value: 20}, "humidity": {Value: 55}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n.Normalize(raw)
	}
}

// BenchmarkMeasurement_Keys benchmarks sorted key listing used by every sink.
func BenchmarkMeasurement_Keys(b *testing.B) {
	m := NewNormalizer(DefaultSchema(), archiveFieldMap, nil).Normalize(archiveFields())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Keys()
	}
}

// ============================================================================
// Reader Benchmarks
// ============================================================================

// BenchmarkTextReader benchmarks BOM stripping and UTF-8 repair over a
// large export.
func BenchmarkTextReader(b *testing.B) {
	var buf bytes.Buffer
	buf.WriteString("\ufeffName;Temperature (K);Pressure (Pa)\n")
	for i := 0; i < 10000; i++ {
		buf.WriteString("Water_i;298,15;101325\n")
	}
	buf.WriteString("bad \xff byte\n")
	data := buf.Bytes()

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		io.Copy(io.Discard, NewTextReader(bytes.NewReader(data)))
	}
}

// BenchmarkCleanCell benchmarks cell cleanup.
func BenchmarkCleanCell(b *testing.B) {
	testCases := []string{"Water_i", "  298.15  ", "=\"30\"", strings.Repeat("x", 64)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			CleanCell(tc)
		}
	}
}

// ============================================================================
// Parallel Benchmarks
// ============================================================================

// BenchmarkNormalizeParallel benchmarks concurrent normalization; the
// Normalizer holds no mutable state.
func BenchmarkNormalizeParallel(b *testing.B) {
	n := NewNormalizer(DefaultSchema(), archiveFieldMap, nil)
	raw := archiveFields()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			n.Normalize(raw)
		}
	})
}
