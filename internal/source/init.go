// Package source implements the telemetry source adapters.
//
// Each adapter turns one origin into canonical measurements:
//
//	rest     ThingsBoard timeseries over HTTP
//	archive  DWSIM simulation archive, raw XML or ZIP
//	export   operator exports: delimited, line text, JSON or YAML
//	live     an attached automation session
//	serial   SHT20 sensor gateway lines on a serial port
//
// Adapters register themselves from init so the CLI can build any of them
// from configuration through New.
package source

import (
	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
)

func init() {
	Register(Definition{
		Kind:  config.SourceREST,
		Label: "ThingsBoard REST telemetry",
		New: func(cfg *config.Config, deps Deps) (core.Source, error) {
			return NewREST(RESTConfigFrom(cfg), deps.HTTPClient), nil
		},
	})
	Register(Definition{
		Kind:  config.SourceArchive,
		Label: "DWSIM archive (XML or ZIP)",
		New: func(cfg *config.Config, _ Deps) (core.Source, error) {
			return NewArchive(ArchiveConfig{
				Path:        cfg.Source.File,
				Stream:      cfg.Source.Stream,
				Simulation:  cfg.Source.Simulation,
				ComponentID: cfg.Source.ComponentID,
			}), nil
		},
	})
	Register(Definition{
		Kind:  config.SourceExport,
		Label: "Exported stream table",
		New: func(cfg *config.Config, _ Deps) (core.Source, error) {
			path := cfg.Source.ExportFolder
			if path == "" {
				path = cfg.Source.File
			}
			var exclude []string
			if cfg.Output.Has(config.SinkCSV) && cfg.Output.CSVFile != "" {
				exclude = append(exclude, cfg.Output.CSVFile)
			}
			return NewExport(ExportConfig{
				Path:       path,
				Stream:     cfg.Source.Stream,
				Simulation: cfg.Source.Simulation,
				Exclude:    exclude,
			}), nil
		},
	})
	Register(Definition{
		Kind:  config.SourceLive,
		Label: "Live automation session",
		New: func(cfg *config.Config, deps Deps) (core.Source, error) {
			return NewLive(deps.Session, cfg.Source.Stream, cfg.Source.Simulation), nil
		},
	})
	Register(Definition{
		Kind:  config.SourceSerial,
		Label: "Serial sensor gateway",
		New: func(cfg *config.Config, deps Deps) (core.Source, error) {
			return NewSerial(SerialConfig{
				Port:       cfg.Serial.Port,
				Baud:       cfg.Serial.Baud,
				Timeout:    cfg.Poll.FetchTimeout,
				Stream:     cfg.Source.Stream,
				Simulation: cfg.Source.Simulation,
			}, deps.OpenPort), nil
		},
	})
}
