package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
)

// Source kinds accepted by SOURCE_KIND.
const (
	SourceREST    = "rest"
	SourceArchive = "archive"
	SourceExport  = "export"
	SourceLive    = "live"
	SourceSerial  = "serial"
)

// Sink names accepted by OUTPUT_SINKS.
const (
	SinkCSV      = "csv"
	SinkInflux   = "influx"
	SinkPostgres = "postgres"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Errors wrap core.ErrConfig.
func Load() (*Config, error) {
	return LoadFunc(os.Getenv)
}

// LoadFunc is Load with a custom variable lookup.
func LoadFunc(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), getenv); err != nil {
		return nil, fmt.Errorf("config load: %w: %v", core.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w: %v", core.ErrConfig, err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value, getenv func(string) string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, getenv); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := strings.TrimSpace(getenv(envName))
		if value == "" && envAlt != "" {
			value = strings.TrimSpace(getenv(envAlt))
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := parseDuration(value)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// parseDuration accepts Go durations and bare integers as seconds, so
// POLL_INTERVAL=10 means ten seconds.
func parseDuration(value string) (time.Duration, error) {
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	return d, nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Source.Kind) {
	case SourceREST, SourceArchive, SourceExport, SourceLive, SourceSerial:
	default:
		errs = append(errs, fmt.Sprintf("SOURCE_KIND (%q) must be one of: rest, archive, export, live, serial", c.Source.Kind))
	}

	for _, s := range c.Output.Sinks {
		switch strings.ToLower(s) {
		case SinkCSV, SinkInflux, SinkPostgres:
		default:
			errs = append(errs, fmt.Sprintf("OUTPUT_SINKS entry %q must be one of: csv, influx, postgres", s))
		}
	}

	if c.ThingsBoard.Port <= 0 || c.ThingsBoard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("THINGSBOARD_PORT (%d) must be 1-65535", c.ThingsBoard.Port))
	}
	if c.ThingsBoard.Timeout <= 0 {
		errs = append(errs, "THINGSBOARD_TIMEOUT must be positive")
	}
	if c.Telemetry.Limit <= 0 {
		errs = append(errs, "TELEMETRY_LIMIT must be positive")
	}
	if c.Telemetry.Range <= 0 {
		errs = append(errs, "TELEMETRY_RANGE must be positive")
	}
	if len(c.Telemetry.Keys) == 0 {
		errs = append(errs, "TELEMETRY_KEYS must name at least one key")
	}

	if c.Poll.Interval <= 0 {
		errs = append(errs, "POLL_INTERVAL must be positive")
	}
	if c.Poll.WatchCooldown < 0 {
		errs = append(errs, "WATCH_COOLDOWN must be non-negative")
	}
	if c.Poll.FetchTimeout <= 0 {
		errs = append(errs, "FETCH_TIMEOUT must be positive")
	}

	if c.Serial.Baud <= 0 {
		errs = append(errs, "SERIAL_BAUD must be positive")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	if c.Status.ShutdownTimeout <= 0 {
		errs = append(errs, "STATUS_SHUTDOWN_TIMEOUT must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// RequireSource checks the settings the given source kind cannot run
// without. The error wraps core.ErrConfig.
func (c *Config) RequireSource(kind string) error {
	var missing []string

	kind = strings.ToLower(kind)
	switch kind {
	case SourceREST:
		if c.ThingsBoard.DeviceID == "" {
			missing = append(missing, "DEVICE_ID")
		}
	case SourceArchive:
		if c.Source.File == "" {
			missing = append(missing, "DWSIM_FILE")
		}
	case SourceExport:
		if c.Source.ExportFolder == "" && c.Source.File == "" {
			missing = append(missing, "EXPORT_FOLDER")
		}
	case SourceSerial:
		if c.Serial.Port == "" {
			missing = append(missing, "SERIAL_PORT")
		}
	case SourceLive:
	default:
		return fmt.Errorf("%w: unknown source kind %q", core.ErrConfig, kind)
	}

	if c.Source.Stream == "" && kind != SourceREST && kind != SourceSerial {
		missing = append(missing, "STREAM_NAME")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s source requires %s", core.ErrConfig, kind, strings.Join(missing, ", "))
	}
	return nil
}

// RequireSinks checks the settings every selected sink needs.
// The error wraps core.ErrConfig.
func (c *Config) RequireSinks() error {
	var missing []string

	if c.Output.Has(SinkInflux) {
		for name, v := range map[string]string{
			"INFLUXDB_URL":    c.Influx.URL,
			"INFLUXDB_ORG":    c.Influx.Org,
			"INFLUXDB_BUCKET": c.Influx.Bucket,
			"INFLUXDB_TOKEN":  c.Influx.Token,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
	}
	if c.Output.Has(SinkPostgres) && c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Output.Has(SinkCSV) && c.Output.CSVFile == "" {
		missing = append(missing, "OUTPUT_CSV_FILE")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", core.ErrConfig, strings.Join(missing, ", "))
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Credentials, tokens and database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("ThingsBoard: {URL: %q, Username: %q, Password: %s, DeviceID: %q}, ",
		c.ThingsBoard.BaseURL(), c.ThingsBoard.Username, mask(c.ThingsBoard.Password), c.ThingsBoard.DeviceID))
	b.WriteString(fmt.Sprintf("Influx: {URL: %q, Org: %q, Bucket: %q, Token: %s}, ",
		c.Influx.URL, c.Influx.Org, c.Influx.Bucket, mask(c.Influx.Token)))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		mask(c.Database.URL), c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Source: {Kind: %q, Stream: %q, Simulation: %q}, ",
		c.Source.Kind, c.Source.Stream, c.Source.Simulation))
	b.WriteString(fmt.Sprintf("Poll: {Interval: %s, FetchTimeout: %s}, ", c.Poll.Interval, c.Poll.FetchTimeout))
	b.WriteString(fmt.Sprintf("Output: {Sinks: %v}, ", c.Output.Sinks))
	b.WriteString(fmt.Sprintf("Status: {Addr: %q, Token: %s}, ", c.Status.Addr, mask(c.Status.Token)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return `""`
	}
	return "[MASKED]"
}
