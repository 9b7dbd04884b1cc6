package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// Gateway line prefixes.
const (
	sensorPrefix = "SENSOR_DATA|"
	relayPrefix  = "RELAY_STATUS|"
)

// pumpRelay is the relay reported with each reading.
const pumpRelay = "pump"

// serialSchema holds the gateway keys in column order.
var serialSchema = core.Schema{
	{Key: core.KeyTemperature, Unit: core.UnitCelsius},
	{Key: core.KeyHumidity, Unit: core.UnitPercent},
	{Key: core.KeyPumpStatus, Unit: core.UnitNone},
}

// portReadTimeout bounds a single port read so Fetch can watch its deadline.
const portReadTimeout = 200 * time.Millisecond

// PortOpener opens a serial port.
type PortOpener func(name string, baud int) (io.ReadCloser, error)

// OpenSerialPort opens a system serial port in 8N1 mode.
func OpenSerialPort(name string, baud int) (io.ReadCloser, error) {
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// SerialConfig holds the gateway port settings.
type SerialConfig struct {
	Port       string
	Baud       int
	Timeout    time.Duration // how long Fetch waits for a sensor line
	Stream     string
	Simulation string
}

// SensorReading is one parsed SENSOR_DATA line.
type SensorReading struct {
	Timestamp   uint64 // gateway clock, as sent
	Temperature float64
	Humidity    float64
}

// SerialSource reads SHT20 readings forwarded by the sensor gateway.
type SerialSource struct {
	cfg        SerialConfig
	open       PortOpener
	normalizer *core.Normalizer

	mu      sync.Mutex
	port    io.ReadCloser
	partial []byte
	relays  map[string]bool
}

// NewSerial creates a serial source. A nil opener uses OpenSerialPort.
func NewSerial(cfg SerialConfig, open PortOpener) *SerialSource {
	if open == nil {
		open = OpenSerialPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	fields := core.FieldMap{
		"temperature": core.KeyTemperature,
		"humidity":    core.KeyHumidity,
		pumpRelay:     core.KeyPumpStatus,
	}
	return &SerialSource{
		cfg:        cfg,
		open:       open,
		normalizer: core.NewNormalizer(serialSchema, fields, nil),
		relays:     make(map[string]bool),
	}
}

// Describe implements core.Source.
func (s *SerialSource) Describe() core.SourceDescriptor {
	return core.SourceDescriptor{Stream: s.cfg.Stream, Simulation: s.cfg.Simulation, Kind: config.SourceSerial}
}

// Keys returns the gateway keys in column order.
func (s *SerialSource) Keys() []core.Key { return serialSchema.Keys() }

// Check implements core.Checker by opening the port.
func (s *SerialSource) Check(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureOpen()
}

// Close releases the port.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Fetch implements core.Source. It reads until a sensor line arrives or the
// timeout passes; a timeout is absent data.
func (s *SerialSource) Fetch(ctx context.Context) (core.Measurement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := logging.WithFields(ctx, "source", config.SourceSerial, "port", s.cfg.Port)

	if err := s.ensureOpen(); err != nil {
		return core.Measurement{}, false, err
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	buf := make([]byte, 256)
	for {
		if r, ok := s.nextReading(logger.Debug); ok {
			m := s.measure(r)
			return m, !m.IsEmpty(), nil
		}
		if err := ctx.Err(); err != nil {
			return core.Measurement{}, false, nil
		}
		if time.Now().After(deadline) {
			logger.Info("no sensor line before timeout", "timeout", s.cfg.Timeout)
			return core.Measurement{}, false, nil
		}

		n, err := s.port.Read(buf)
		s.partial = append(s.partial, buf[:n]...)
		if err != nil {
			s.port.Close()
			s.port = nil
			if r, ok := s.nextReading(logger.Debug); ok {
				m := s.measure(r)
				return m, !m.IsEmpty(), nil
			}
			if errors.Is(err, io.EOF) {
				return core.Measurement{}, false, fmt.Errorf("serial %s: %w: port closed", s.cfg.Port, core.ErrTransport)
			}
			return core.Measurement{}, false, fmt.Errorf("serial %s: %w: %v", s.cfg.Port, core.ErrTransport, err)
		}
	}
}

// measure normalizes a reading. The last reported pump state rides along
// once the gateway has sent one.
func (s *SerialSource) measure(r SensorReading) core.Measurement {
	raw := core.RawFields{
		"temperature": {Value: r.Temperature, Unit: core.UnitCelsius},
		"humidity":    {Value: r.Humidity, Unit: core.UnitPercent},
	}
	if on, ok := s.relays[pumpRelay]; ok {
		v := 0.0
		if on {
			v = 1
		}
		raw[pumpRelay] = core.Quantity{Value: v}
	}
	return s.normalizer.Normalize(raw)
}

func (s *SerialSource) ensureOpen() error {
	if s.port != nil {
		return nil
	}
	if s.cfg.Port == "" {
		return fmt.Errorf("serial: %w: SERIAL_PORT is not set", core.ErrConfig)
	}
	port, err := s.open(s.cfg.Port, s.cfg.Baud)
	if err != nil {
		return fmt.Errorf("serial %s: %w: %v", s.cfg.Port, core.ErrTransport, err)
	}
	s.port = port
	s.partial = s.partial[:0]
	return nil
}

// nextReading consumes complete lines from the buffer until a sensor line
// is found. Relay lines update the relay state; anything else is skipped.
func (s *SerialSource) nextReading(debug func(string, ...any)) (SensorReading, bool) {
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			return SensorReading{}, false
		}
		line := strings.TrimSpace(string(s.partial[:i]))
		s.partial = s.partial[i+1:]

		switch {
		case strings.HasPrefix(line, sensorPrefix):
			r, err := ParseSensorLine(line)
			if err != nil {
				debug("skipping malformed sensor line", "line", line, "error", err)
				continue
			}
			return r, true
		case strings.HasPrefix(line, relayPrefix):
			for name, on := range ParseRelayLine(line) {
				s.relays[name] = on
			}
		}
	}
}

// ParseSensorLine parses "SENSOR_DATA|<timestamp>|<temperature>|<humidity>".
func ParseSensorLine(line string) (SensorReading, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), sensorPrefix)
	if !ok {
		return SensorReading{}, fmt.Errorf("%w: missing %s prefix", core.ErrParse, sensorPrefix)
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 3 {
		return SensorReading{}, fmt.Errorf("%w: want 3 fields, got %d", core.ErrParse, len(parts))
	}
	ts, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return SensorReading{}, fmt.Errorf("%w: timestamp: %v", core.ErrParse, err)
	}
	temp, ok := core.ParseNumber(parts[1])
	if !ok {
		return SensorReading{}, fmt.Errorf("%w: temperature %q", core.ErrParse, parts[1])
	}
	hum, ok := core.ParseNumber(parts[2])
	if !ok {
		return SensorReading{}, fmt.Errorf("%w: humidity %q", core.ErrParse, parts[2])
	}
	return SensorReading{Timestamp: ts, Temperature: temp, Humidity: hum}, nil
}

// ParseRelayLine parses "RELAY_STATUS|exhaust_fan:ON|pump:OFF". Unknown
// states are skipped.
func ParseRelayLine(line string) map[string]bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), relayPrefix)
	if !ok {
		return nil
	}
	out := make(map[string]bool)
	for _, part := range strings.Split(rest, "|") {
		name, state, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(state)) {
		case "ON":
			out[strings.TrimSpace(name)] = true
		case "OFF":
			out[strings.TrimSpace(name)] = false
		}
	}
	return out
}
