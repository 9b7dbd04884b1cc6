// Package core provides the domain model of the telemetry recorder.
//
// This package contains everything the pipeline stages share, independent of
// any transport or storage. Source adapters, sinks and the poll loop depend on
// it; it depends on nothing but the standard library.
//
// # Pipeline
//
// A sampling cycle moves data through four stages:
//
//  1. A [Source] fetches raw fields from its origin (REST API, archive, export
//     file, serial gateway, live session)
//  2. The [Normalizer] maps adapter field names to canonical [Key] values and
//     converts source units into the canonical unit of each key
//  3. A [Sink] persists the resulting [Measurement] with the [SourceDescriptor]
//     attached as tags
//  4. The poll loop waits for the next timer tick or file-change event
//
// # Canonical Schema
//
// Every [Measurement] is expressed in the units of its [Schema]. The default
// schema covers process stream properties:
//
//	temperature_celsius   °C
//	pressure_bar          bar
//	mass_flow_kg_s        kg/s
//	density_kg_m3         kg/m3
//	enthalpy_kj_kg        kJ/kg
//	molar_flow_kmol_h     kmol/h
//	volumetric_flow_m3_h  m3/h
//	humidity_percent      %
//
// The [Normalizer] is the only place where unit conversion happens. Adapters
// report values in whatever unit the origin uses and leave conversion to it.
//
// # Absent Data
//
// Sources report "no data this cycle" by returning ok=false with a nil error.
// That outcome is distinct from a measurement with zero values and from a
// failure. Sinks are never called with an absent or empty measurement.
//
// # Error Handling
//
// Every error produced by an adapter or sink wraps one of the sentinel kinds
// ([ErrConfig], [ErrAuth], [ErrTransport], [ErrParse], [ErrNotFound],
// [ErrWrite], [ErrNotConnected]). Only configuration and authentication
// failures are fatal, see [IsFatal]. Technical errors are mapped to coded
// operator messages using [MapError]:
//
//   - CFG001: Configuration errors
//   - AUTH001: Authentication errors
//   - NET001-NET002: Transport errors
//   - PRS001: Parse errors
//   - NF001: Missing entities
//   - WRT001: Store rejections
//   - LIVE001: Live session errors
package core
