package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// Session is an attached automation session of a running simulation.
// GetProperty returns core.ErrNotFound (wrapped) when the stream does not
// exist, and any other error when the property cannot be read.
type Session interface {
	Name() string
	GetProperty(stream, name string) (any, error)
}

// AttributeReader is implemented by sessions that expose stream properties
// as direct attributes. It is tried before GetProperty.
type AttributeReader interface {
	Attribute(stream, name string) (value float64, ok bool, err error)
}

// liveProperties are the stream properties read per cycle, with the unit
// the session reports them in.
var liveProperties = []struct {
	name string
	key  core.Key
	unit core.Unit
}{
	{"temperature", core.KeyTemperature, core.UnitKelvin},
	{"pressure", core.KeyPressure, core.UnitPascal},
	{"massflow", core.KeyMassFlow, core.UnitKgPerH},
	{"density", core.KeyDensity, core.UnitKgPerM3},
	{"enthalpy", core.KeyEnthalpy, core.UnitKJPerKg},
	{"molarflow", core.KeyMolarFlow, core.UnitKmolPerH},
	{"volumetricflow", core.KeyVolumetricFlow, core.UnitM3PerH},
}

// LiveSource reads a stream from an attached session.
type LiveSource struct {
	session    Session
	stream     string
	simulation string
	normalizer *core.Normalizer
}

// NewLive creates a live source. A nil session makes every Fetch fail with
// core.ErrNotConnected.
func NewLive(session Session, stream, simulation string) *LiveSource {
	fields := make(core.FieldMap, len(liveProperties))
	for _, p := range liveProperties {
		fields[p.name] = p.key
	}
	return &LiveSource{
		session:    session,
		stream:     stream,
		simulation: simulation,
		normalizer: core.NewNormalizer(core.DefaultSchema(), fields, nil),
	}
}

// Describe implements core.Source.
func (s *LiveSource) Describe() core.SourceDescriptor {
	sim := s.simulation
	if s.session != nil && s.session.Name() != "" {
		sim = s.session.Name()
	}
	return core.SourceDescriptor{Stream: s.stream, Simulation: sim, Kind: config.SourceLive}
}

// Check implements core.Checker.
func (s *LiveSource) Check(context.Context) error {
	if s.session == nil {
		return fmt.Errorf("live: %w", core.ErrNotConnected)
	}
	return nil
}

// Fetch implements core.Source.
func (s *LiveSource) Fetch(ctx context.Context) (core.Measurement, bool, error) {
	if s.session == nil {
		return core.Measurement{}, false, fmt.Errorf("live: %w", core.ErrNotConnected)
	}
	logger := logging.WithFields(ctx, "source", config.SourceLive, "session", s.session.Name(), "stream", s.stream)

	raw := make(core.RawFields, len(liveProperties))
	for _, p := range liveProperties {
		if err := ctx.Err(); err != nil {
			return core.Measurement{}, false, fmt.Errorf("live: %w: %v", core.ErrTransport, err)
		}
		v, ok, err := s.read(p.name)
		if errors.Is(err, core.ErrNotFound) {
			logger.Info("stream not found in session")
			return core.Measurement{}, false, nil
		}
		if err != nil {
			logger.Debug("property unavailable", "property", p.name, "error", err)
			continue
		}
		if ok {
			raw[p.name] = core.Quantity{Value: v, Unit: p.unit}
		}
	}

	m := s.normalizer.Normalize(raw)
	if m.IsEmpty() {
		return core.Measurement{}, false, nil
	}
	return m, true, nil
}

// read tries the direct attribute first and the generic lookup second.
func (s *LiveSource) read(name string) (float64, bool, error) {
	if ar, ok := s.session.(AttributeReader); ok {
		v, found, err := ar.Attribute(s.stream, name)
		if errors.Is(err, core.ErrNotFound) {
			return 0, false, err
		}
		if err == nil && found {
			return v, true, nil
		}
	}

	val, err := s.session.GetProperty(s.stream, name)
	if err != nil {
		return 0, false, err
	}
	return toFloat(val)
}

func toFloat(v any) (float64, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return x, true, nil
	case float32:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case string:
		f, ok := core.ParseNumber(x)
		return f, ok, nil
	case fmt.Stringer:
		f, ok := core.ParseNumber(x.String())
		return f, ok, nil
	}
	return 0, false, fmt.Errorf("%w: unsupported property type %T", core.ErrParse, v)
}
