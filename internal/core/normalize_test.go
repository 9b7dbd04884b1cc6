package core

import (
	"math"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(DefaultSchema(), FieldMap{
		"temperature": KeyTemperature,
		"pressure":    KeyPressure,
		"massflow":    KeyMassFlow,
		"bogus":       Key("not_in_schema"),
	}, nil)

	tests := []struct {
		name string
		raw  RawFields
		want map[Key]float64
	}{
		{
			name: "kelvin and pascal converted",
			raw: RawFields{
				"temperature": {Value: 300.15, Unit: UnitKelvin},
				"pressure":    {Value: 101325, Unit: UnitPascal},
			},
			want: map[Key]float64{KeyTemperature: 27, KeyPressure: 1.01325},
		},
		{
			name: "unknown field dropped",
			raw: RawFields{
				"colour":      {Value: 1},
				"temperature": {Value: 20, Unit: UnitCelsius},
			},
			want: map[Key]float64{KeyTemperature: 20},
		},
		{
			name: "key outside schema dropped",
			raw:  RawFields{"bogus": {Value: 1}},
			want: map[Key]float64{},
		},
		{
			name: "unconvertible unit dropped",
			raw:  RawFields{"temperature": {Value: 1, Unit: UnitBar}},
			want: map[Key]float64{},
		},
		{
			name: "non-finite dropped",
			raw:  RawFields{"massflow": {Value: math.Inf(1), Unit: UnitKgPerS}},
			want: map[Key]float64{},
		},
		{
			name: "canonical key passes through",
			raw:  RawFields{string(KeyDensity): {Value: 998.2}},
			want: map[Key]float64{KeyDensity: 998.2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.raw)
			if got.Len() != len(tt.want) {
				t.Fatalf("Len() = %d, want %d (%v)", got.Len(), len(tt.want), got.Values())
			}
			for k, want := range tt.want {
				v, ok := got.Get(k)
				if !ok || !approx(v, want) {
					t.Errorf("Get(%s) = %v, %v, want %v", k, v, ok, want)
				}
			}
		})
	}
}

func TestNormalize_Passthrough(t *testing.T) {
	n := NewNormalizer(PassthroughSchema([]string{"temperature", " humidity", "temperature", ""}), nil, nil)

	if got := n.Schema().Keys(); !reflect.DeepEqual(got, []Key{"temperature", "humidity"}) {
		t.Fatalf("Keys() = %v", got)
	}

	m := n.Normalize(RawFields{"temperature": {Value: 21.5, Unit: UnitKelvin}, "other": {Value: 1}})
	if v, _ := m.Get("temperature"); v != 21.5 {
		t.Errorf("temperature = %v, want 21.5 unchanged", v)
	}
	if _, ok := m.Get("other"); ok {
		t.Error("key outside passthrough schema should be dropped")
	}
}

func TestMeasurement_Immutable(t *testing.T) {
	src := map[Key]float64{KeyTemperature: 1}
	m := NewMeasurement(src)
	src[KeyTemperature] = 2

	if v, _ := m.Get(KeyTemperature); v != 1 {
		t.Errorf("measurement changed with source map: %v", v)
	}

	vals := m.Values()
	vals[KeyTemperature] = 3
	if v, _ := m.Get(KeyTemperature); v != 1 {
		t.Errorf("measurement changed through Values(): %v", v)
	}
}

func TestMeasurement_KeysAndOnly(t *testing.T) {
	m := NewMeasurement(map[Key]float64{
		KeyPressure:    2,
		KeyTemperature: 20,
		KeyDensity:     998,
	})

	want := []Key{KeyDensity, KeyPressure, KeyTemperature}
	if got := m.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}

	only := m.Only(KeyTemperature, KeyHumidity)
	if only.Len() != 1 {
		t.Fatalf("Only().Len() = %d, want 1", only.Len())
	}
	if v, ok := only.Get(KeyTemperature); !ok || v != 20 {
		t.Errorf("Only() temperature = %v, %v", v, ok)
	}
	if !NewMeasurement(nil).IsEmpty() {
		t.Error("empty measurement should report IsEmpty")
	}
}

func TestSourceDescriptor_Tags(t *testing.T) {
	d := SourceDescriptor{Stream: "Water_i", Simulation: "MySimulation", Kind: "archive"}
	want := map[string]string{"stream": "Water_i", "simulation": "MySimulation"}
	if got := d.Tags(); !reflect.DeepEqual(got, want) {
		t.Errorf("Tags() = %v, want %v", got, want)
	}
	if got := (SourceDescriptor{Kind: "rest"}).Tags(); len(got) != 0 {
		t.Errorf("Tags() with no names = %v, want empty", got)
	}
}
