package source

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
)

// staticSession serves fixed property values per stream.
type staticSession struct {
	name    string
	streams map[string]map[string]any
	failing map[string]bool // properties whose read fails
}

func (s *staticSession) Name() string { return s.name }

func (s *staticSession) GetProperty(stream, name string) (any, error) {
	props, ok := s.streams[stream]
	if !ok {
		return nil, fmt.Errorf("stream %s: %w", stream, core.ErrNotFound)
	}
	if s.failing[name] {
		return nil, errors.New("property read failed")
	}
	return props[name], nil
}

// attrSession adds direct attribute access on top of staticSession.
type attrSession struct {
	staticSession
	attrs map[string]float64
}

func (s *attrSession) Attribute(stream, name string) (float64, bool, error) {
	if _, ok := s.streams[stream]; !ok {
		return 0, false, fmt.Errorf("stream %s: %w", stream, core.ErrNotFound)
	}
	v, ok := s.attrs[name]
	return v, ok, nil
}

type stringer string

func (s stringer) String() string { return string(s) }

func TestLiveSource_Fetch(t *testing.T) {
	session := &staticSession{
		name: "Plant",
		streams: map[string]map[string]any{
			"Water_i": {
				"temperature": 298.15,
				"pressure":    int64(200000),
				"massflow":    "3600",
				"density":     stringer("997"),
				"enthalpy":    nil,
				"molarflow":   float32(12.5),
			},
		},
		failing: map[string]bool{"volumetricflow": true},
	}

	m, ok, err := NewLive(session, "Water_i", "Sim").Fetch(context.Background())
	if err != nil || !ok {
		t.Fatalf("Fetch() = ok %v, err %v", ok, err)
	}

	want := map[core.Key]float64{
		core.KeyTemperature: 25,
		core.KeyPressure:    2,
		core.KeyMassFlow:    1,
		core.KeyDensity:     997,
		core.KeyMolarFlow:   12.5,
	}
	if m.Len() != len(want) {
		t.Errorf("got keys %v, want %d keys", m.Keys(), len(want))
	}
	for k, v := range want {
		if got, ok := m.Get(k); !ok || !approxEqual(got, v) {
			t.Errorf("%s = %v (ok=%v), want %v", k, got, ok, v)
		}
	}
}

func TestLiveSource_AttributeFirst(t *testing.T) {
	session := &attrSession{
		staticSession: staticSession{
			streams: map[string]map[string]any{"S1": {"temperature": 400.0, "pressure": 100000.0}},
		},
		attrs: map[string]float64{"temperature": 300},
	}

	m, ok, err := NewLive(session, "S1", "").Fetch(context.Background())
	if err != nil || !ok {
		t.Fatalf("Fetch() = ok %v, err %v", ok, err)
	}
	if got, _ := m.Get(core.KeyTemperature); !approxEqual(got, 300-273.15) {
		t.Errorf("temperature = %v, want attribute value", got)
	}
	if got, _ := m.Get(core.KeyPressure); !approxEqual(got, 1) {
		t.Errorf("pressure = %v, want property fallback 1", got)
	}
}

func TestLiveSource_Absent(t *testing.T) {
	tests := []struct {
		name    string
		session Session
	}{
		{"stream missing", &staticSession{streams: map[string]map[string]any{}}},
		{"stream missing via attribute", &attrSession{staticSession: staticSession{streams: map[string]map[string]any{}}}},
		{"no numeric properties", &staticSession{streams: map[string]map[string]any{"Water_i": {"temperature": "n/a"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := NewLive(tt.session, "Water_i", "").Fetch(context.Background())
			if err != nil || ok {
				t.Errorf("Fetch() = ok %v, err %v; want absent", ok, err)
			}
		})
	}
}

func TestLiveSource_NotConnected(t *testing.T) {
	src := NewLive(nil, "Water_i", "Sim")

	if _, _, err := src.Fetch(context.Background()); !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("Fetch() error = %v, want ErrNotConnected", err)
	}
	if err := src.Check(context.Background()); !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("Check() error = %v, want ErrNotConnected", err)
	}
	if got := src.Describe().Simulation; got != "Sim" {
		t.Errorf("Describe().Simulation = %q, want %q", got, "Sim")
	}
}

func TestLiveSource_Describe(t *testing.T) {
	src := NewLive(&staticSession{name: "Plant"}, "Water_i", "Sim")
	d := src.Describe()
	if d.Simulation != "Plant" || d.Stream != "Water_i" || d.Kind != "live" {
		t.Errorf("Describe() = %+v", d)
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in     any
		want   float64
		wantOK bool
		errKin error
	}{
		{1.5, 1.5, true, nil},
		{float32(2), 2, true, nil},
		{3, 3, true, nil},
		{int32(4), 4, true, nil},
		{int64(5), 5, true, nil},
		{"6,5", 6.5, true, nil},
		{"abc", 0, false, nil},
		{stringer("7"), 7, true, nil},
		{nil, 0, false, nil},
		{[]int{1}, 0, false, core.ErrParse},
	}

	for _, tt := range tests {
		got, ok, err := toFloat(tt.in)
		if tt.errKin != nil {
			if !errors.Is(err, tt.errKin) {
				t.Errorf("toFloat(%v) error = %v, want %v", tt.in, err, tt.errKin)
			}
			continue
		}
		if err != nil || ok != tt.wantOK || got != tt.want {
			t.Errorf("toFloat(%v) = (%v, %v, %v), want (%v, %v)", tt.in, got, ok, err, tt.want, tt.wantOK)
		}
	}
}
