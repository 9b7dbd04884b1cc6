package core

// convert.go provides unit handling and numeric cleanup for raw telemetry.
//
// Origins report values in whatever unit they use internally:
//   - Simulation archives store SI base units (K, Pa, kg/s)
//   - Live sessions report mass flow per hour
//   - Operator exports carry the unit in the header or after the value
//
// The ConversionTable turns any known source unit into the canonical unit of a
// key. Nothing outside the Normalizer calls Convert.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Unit is a normalized unit symbol.
type Unit string

// Known units. The first eight are canonical.
const (
	UnitCelsius  Unit = "°C"
	UnitBar      Unit = "bar"
	UnitKgPerS   Unit = "kg/s"
	UnitKgPerM3  Unit = "kg/m3"
	UnitKJPerKg  Unit = "kJ/kg"
	UnitKmolPerH Unit = "kmol/h"
	UnitM3PerH   Unit = "m3/h"
	UnitPercent  Unit = "%"
	UnitNone     Unit = ""
	UnitKelvin   Unit = "K"
	UnitFahr     Unit = "°F"
	UnitPascal   Unit = "Pa"
	UnitKPa      Unit = "kPa"
	UnitMPa      Unit = "MPa"
	UnitAtm      Unit = "atm"
	UnitPsi      Unit = "psi"
	UnitKgPerH   Unit = "kg/h"
	UnitGPerS    Unit = "g/s"
	UnitGPerCm3  Unit = "g/cm3"
	UnitJPerKg   Unit = "J/kg"
	UnitMolPerS  Unit = "mol/s"
	UnitKmolPerS Unit = "kmol/s"
	UnitM3PerS   Unit = "m3/s"
	UnitLPerMin  Unit = "L/min"
)

// unitAliases maps lowercased spellings to units.
var unitAliases = map[string]Unit{
	"°c": UnitCelsius, "degc": UnitCelsius, "c": UnitCelsius, "celsius": UnitCelsius, "deg c": UnitCelsius, "ºc": UnitCelsius,
	"k": UnitKelvin, "kelvin": UnitKelvin,
	"°f": UnitFahr, "degf": UnitFahr, "f": UnitFahr, "fahrenheit": UnitFahr,
	"pa": UnitPascal, "pascal": UnitPascal,
	"kpa": UnitKPa,
	"mpa": UnitMPa,
	"bar": UnitBar, "bara": UnitBar,
	"atm": UnitAtm,
	"psi": UnitPsi, "psia": UnitPsi,
	"kg/s": UnitKgPerS,
	"kg/h": UnitKgPerH, "kg/hr": UnitKgPerH,
	"g/s": UnitGPerS,
	"kg/m3": UnitKgPerM3,
	"g/cm3": UnitGPerCm3,
	"kj/kg": UnitKJPerKg,
	"j/kg": UnitJPerKg,
	"kmol/h": UnitKmolPerH, "kmol/hr": UnitKmolPerH,
	"kmol/s": UnitKmolPerS,
	"mol/s": UnitMolPerS,
	"m3/h": UnitM3PerH, "m3/hr": UnitM3PerH,
	"m3/s": UnitM3PerS,
	"l/min": UnitLPerMin, "lpm": UnitLPerMin,
	"%": UnitPercent, "percent": UnitPercent, "%rh": UnitPercent, "rh": UnitPercent,
}

// ParseUnit resolves a unit spelling. Superscripts, "^3" and surrounding
// whitespace are tolerated. Returns false for unknown units.
func ParseUnit(s string) (Unit, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnitNone, true
	}
	s = strings.NewReplacer("³", "3", "^3", "3", "·", "", " per ", "/").Replace(s)
	s = strings.ToLower(s)
	if u, ok := unitAliases[s]; ok {
		return u, true
	}
	if u, ok := unitAliases[strings.ReplaceAll(s, " ", "")]; ok {
		return u, true
	}
	return UnitNone, false
}

// Conversion describes canonical = value*Scale + Offset.
type Conversion struct {
	To     Unit
	Scale  float64
	Offset float64
}

// ConversionTable holds one conversion per source unit.
type ConversionTable map[Unit]Conversion

// DefaultConversions returns the conversions from known source units to the
// canonical units of the default schema.
func DefaultConversions() ConversionTable {
	return ConversionTable{
		UnitKelvin:   {To: UnitCelsius, Scale: 1, Offset: -273.15},
		UnitFahr:     {To: UnitCelsius, Scale: 5.0 / 9.0, Offset: -32 * 5.0 / 9.0},
		UnitPascal:   {To: UnitBar, Scale: 1e-5},
		UnitKPa:      {To: UnitBar, Scale: 0.01},
		UnitMPa:      {To: UnitBar, Scale: 10},
		UnitAtm:      {To: UnitBar, Scale: 1.01325},
		UnitPsi:      {To: UnitBar, Scale: 0.0689475729},
		UnitKgPerH:   {To: UnitKgPerS, Scale: 1.0 / 3600.0},
		UnitGPerS:    {To: UnitKgPerS, Scale: 0.001},
		UnitGPerCm3:  {To: UnitKgPerM3, Scale: 1000},
		UnitJPerKg:   {To: UnitKJPerKg, Scale: 0.001},
		UnitMolPerS:  {To: UnitKmolPerH, Scale: 3.6},
		UnitKmolPerS: {To: UnitKmolPerH, Scale: 3600},
		UnitM3PerS:   {To: UnitM3PerH, Scale: 3600},
		UnitLPerMin:  {To: UnitM3PerH, Scale: 0.06},
	}
}

// Convert converts v from unit from into unit to. Equal units, an empty
// source unit and a dimensionless target are identity. Returns false when no
// conversion is known.
func (t ConversionTable) Convert(v float64, from, to Unit) (float64, bool) {
	if from == to || from == UnitNone || to == UnitNone {
		return v, true
	}
	c, ok := t[from]
	if !ok || c.To != to {
		return 0, false
	}
	return v*c.Scale + c.Offset, true
}

// Inverse converts v from canonical unit from back into source unit to.
func (t ConversionTable) Inverse(v float64, from, to Unit) (float64, bool) {
	if from == to || from == UnitNone || to == UnitNone {
		return v, true
	}
	c, ok := t[to]
	if !ok || c.To != from || c.Scale == 0 {
		return 0, false
	}
	return (v - c.Offset) / c.Scale, true
}

// numericRegex validates that a string is a plain decimal or scientific number.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ParseNumber parses a numeric cell. Thousands separators are rejected and a
// single decimal comma is read as a decimal point. Returns false for anything
// else, including NaN and infinities.
func ParseNumber(s string) (float64, bool) {
	s = CleanCell(s)
	if s == "" {
		return 0, false
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// SplitValueUnit splits "300.15 K" into its number and unit. The unit may be
// missing; an unknown unit makes the whole token unusable.
func SplitValueUnit(s string) (float64, Unit, bool) {
	s = CleanCell(s)
	if v, ok := ParseNumber(s); ok {
		return v, UnitNone, true
	}
	i := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r == '.' || r == ',' || r == '-' || r == '+' || r == 'e' || r == 'E')
	})
	if i <= 0 {
		return 0, UnitNone, false
	}
	v, ok := ParseNumber(s[:i])
	if !ok {
		return 0, UnitNone, false
	}
	u, ok := ParseUnit(s[i:])
	if !ok {
		return 0, UnitNone, false
	}
	return v, u, true
}

// CleanCell removes common export artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
