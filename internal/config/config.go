// Package config provides centralized configuration management for the recorder.
// It loads configuration from environment variables with defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds all recorder configuration.
// All settings can be configured via environment variables or a .env file.
type Config struct {
	ThingsBoard ThingsBoardConfig
	Telemetry   TelemetryConfig
	Influx      InfluxConfig
	Database    DatabaseConfig
	Source      SourceConfig
	Serial      SerialConfig
	Poll        PollConfig
	Output      OutputConfig
	Status      StatusConfig
	Logging     LoggingConfig
}

// ThingsBoardConfig holds REST telemetry platform settings.
type ThingsBoardConfig struct {
	// Host is the platform host name, optionally with scheme (default: demo.thingsboard.io)
	Host string `env:"THINGSBOARD_HOST" default:"demo.thingsboard.io"`

	// Port is the platform HTTP port (default: 80)
	Port int `env:"THINGSBOARD_PORT" default:"80"`

	Username string `env:"THINGSBOARD_USERNAME"`
	Password string `env:"THINGSBOARD_PASSWORD"`

	// DeviceID is the device whose timeseries are read
	DeviceID string `env:"DEVICE_ID" envAlt:"THINGSBOARD_DEVICE_ID"`

	// Timeout bounds every HTTP request (default: 5s)
	Timeout time.Duration `env:"THINGSBOARD_TIMEOUT" default:"5s"`
}

// BaseURL returns the platform base URL without trailing slash.
func (c *ThingsBoardConfig) BaseURL() string {
	host := strings.TrimRight(c.Host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if c.Port == 443 {
		return "https://" + host
	}
	if c.Port == 0 || c.Port == 80 {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// TelemetryConfig holds the REST range query settings.
type TelemetryConfig struct {
	// Keys are the telemetry keys requested (default: temperature,humidity)
	Keys []string `env:"TELEMETRY_KEYS" default:"temperature,humidity"`

	// Limit is the maximum number of points per key (default: 10000)
	Limit int `env:"TELEMETRY_LIMIT" default:"10000"`

	// Range is the look-back window ending now (default: 24h)
	Range time.Duration `env:"TELEMETRY_RANGE" default:"24h"`
}

// InfluxConfig holds time-series store settings.
type InfluxConfig struct {
	URL    string `env:"INFLUXDB_URL" default:"http://localhost:8086"`
	Org    string `env:"INFLUXDB_ORG"`
	Bucket string `env:"INFLUXDB_BUCKET"`
	Token  string `env:"INFLUXDB_TOKEN"`

	// Measurement is the point name for full measurements (default: dwsim_measurement)
	Measurement string `env:"INFLUXDB_MEASUREMENT" default:"dwsim_measurement"`

	// LegacyMeasurement receives temperature-only points when LegacyEnabled is set
	LegacyMeasurement string `env:"INFLUXDB_LEGACY_MEASUREMENT" default:"dwsim_temperature"`
	LegacyEnabled     bool   `env:"INFLUXDB_LEGACY_ENABLED" default:"false"`

	// Timeout bounds a single write (default: 5s)
	Timeout time.Duration `env:"INFLUXDB_TIMEOUT" default:"5s"`
}

// DatabaseConfig holds PostgreSQL sink settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// Table receives one row per key and sample (default: telemetry_points)
	Table string `env:"DB_TABLE" default:"telemetry_points"`
}

// SourceConfig selects and identifies the telemetry source.
type SourceConfig struct {
	// Kind is one of rest, archive, export, live, serial (default: archive)
	Kind string `env:"SOURCE_KIND" default:"archive"`

	// File is the simulation archive (.xml, .dwxml, .dwxmz, .zip)
	File string `env:"DWSIM_FILE"`

	// ExportFolder is a file or folder holding operator exports
	ExportFolder string `env:"EXPORT_FOLDER"`

	Stream     string `env:"STREAM_NAME" default:"Water_i"`
	Simulation string `env:"SIMULATION_NAME" default:"MySimulation"`

	// ComponentID is the fixed identifier used as the last object match strategy
	ComponentID string `env:"COMPONENT_ID"`
}

// SerialConfig holds sensor gateway settings.
type SerialConfig struct {
	Port string `env:"SERIAL_PORT" default:"/dev/ttyUSB0"`
	Baud int    `env:"SERIAL_BAUD" default:"115200"`
}

// PollConfig holds polling loop settings.
type PollConfig struct {
	// Interval between timer-triggered cycles (default: 10s)
	Interval time.Duration `env:"POLL_INTERVAL" default:"10s"`

	// WatchCooldown is the minimum spacing of file-triggered cycles per path (default: 2s)
	WatchCooldown time.Duration `env:"WATCH_COOLDOWN" default:"2s"`

	// KeepLastGood re-writes the last good record when the source is absent (default: true)
	KeepLastGood bool `env:"KEEP_LAST_GOOD" default:"true"`

	// FetchTimeout bounds a single fetch (default: 5s)
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" default:"5s"`
}

// OutputConfig selects sinks.
type OutputConfig struct {
	// Sinks is a comma-separated list of csv, influx, postgres (default: influx)
	Sinks []string `env:"OUTPUT_SINKS" default:"influx"`

	// CSVFile is the wide CSV output path (default: telemetry_data.csv)
	CSVFile string `env:"OUTPUT_CSV_FILE" default:"telemetry_data.csv"`
}

// Has reports whether sink name is selected.
func (c *OutputConfig) Has(name string) bool {
	for _, s := range c.Sinks {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// StatusConfig holds the optional status HTTP server settings.
type StatusConfig struct {
	// Addr enables the status server when set, e.g. ":9100"
	Addr string `env:"STATUS_ADDR"`

	// Token, when set, is required as a bearer token on /api routes
	Token string `env:"STATUS_TOKEN"`

	ReadTimeout     time.Duration `env:"STATUS_READ_TIMEOUT" default:"5s"`
	ShutdownTimeout time.Duration `env:"STATUS_SHUTDOWN_TIMEOUT" default:"5s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}
