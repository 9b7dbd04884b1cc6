package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

// InfluxConfig holds the time-series store connection settings.
type InfluxConfig struct {
	URL         string
	Org         string
	Bucket      string
	Token       string
	Measurement string
	Timeout     time.Duration
}

// InfluxConfigFrom builds the full-record sink settings. With legacy set it
// returns the settings for the temperature-only measurement instead.
func InfluxConfigFrom(cfg *config.Config, legacy bool) InfluxConfig {
	measurement := cfg.Influx.Measurement
	if legacy {
		measurement = cfg.Influx.LegacyMeasurement
	}
	return InfluxConfig{
		URL:         cfg.Influx.URL,
		Org:         cfg.Influx.Org,
		Bucket:      cfg.Influx.Bucket,
		Token:       cfg.Influx.Token,
		Measurement: measurement,
		Timeout:     cfg.Influx.Timeout,
	}
}

// Influx writes one point per present key with a blocking write.
type Influx struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	url         string
	now         func() time.Time
}

// NewInflux creates an Influx sink with its own client.
func NewInflux(cfg InfluxConfig) *Influx {
	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(timeoutSeconds(cfg.Timeout))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return NewInfluxWithClient(client, cfg)
}

// timeoutSeconds converts the request timeout to the client's whole
// seconds, rounding up. Unset means 5s; the client reads 0 as no timeout.
func timeoutSeconds(d time.Duration) uint {
	if d <= 0 {
		return 5
	}
	return uint((d + time.Second - 1) / time.Second)
}

// NewInfluxWithClient creates an Influx sink on a shared client, so the full
// and legacy sinks use one connection.
func NewInfluxWithClient(client influxdb2.Client, cfg InfluxConfig) *Influx {
	return &Influx{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		url:         cfg.URL,
		now:         time.Now,
	}
}

// Client returns the underlying client.
func (s *Influx) Client() influxdb2.Client { return s.client }

// Write implements core.Sink. Points carry the wall-clock time of the write;
// ts is not used.
func (s *Influx) Write(ctx context.Context, m core.Measurement, src core.SourceDescriptor, _ time.Time) error {
	if m.IsEmpty() {
		return nil
	}
	logger := logging.WithFields(ctx, "sink", "influx", "measurement", s.measurement)

	points := s.Points(m, src, s.now())
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		logger.Warn("influx write failed", "points", len(points), "error", err)
		return fmt.Errorf("influx write %s: %w: %v", s.measurement, core.ErrWrite, err)
	}
	logger.Debug("influx write succeeded", "points", len(points))
	return nil
}

// Points builds one point per key in key order, all stamped with at.
func (s *Influx) Points(m core.Measurement, src core.SourceDescriptor, at time.Time) []*write.Point {
	tags := src.Tags()
	keys := m.Keys()
	points := make([]*write.Point, 0, len(keys))
	for _, k := range keys {
		v, _ := m.Get(k)
		points = append(points, influxdb2.NewPoint(
			s.measurement,
			tags,
			map[string]interface{}{string(k): v},
			at,
		))
	}
	return points
}

// Ping checks that the store is reachable.
func (s *Influx) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx ping %s: %w: %v", s.url, core.ErrTransport, err)
	}
	if !ok {
		return fmt.Errorf("influx ping %s: %w: server not ready", s.url, core.ErrTransport)
	}
	return nil
}

// Close releases the client.
func (s *Influx) Close() {
	s.client.Close()
}
