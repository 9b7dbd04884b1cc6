// Package app assembles sources, sinks, the poll loop and the status server
// from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
	"github.com/JonMunkholm/telemetry-recorder/internal/metrics"
	"github.com/JonMunkholm/telemetry-recorder/internal/poll"
	"github.com/JonMunkholm/telemetry-recorder/internal/sink"
	"github.com/JonMunkholm/telemetry-recorder/internal/source"
	"github.com/JonMunkholm/telemetry-recorder/internal/web"
)

// App is one configured recorder run.
type App struct {
	cfg      *config.Config
	source   core.Source
	sink     core.Sink
	csv      *sink.WideCSV // nil unless the csv sink is selected
	registry *prometheus.Registry
	metrics  *metrics.Recorder

	checks  []check
	closers []func()
}

// check is one named connectivity probe run by Check.
type check struct {
	name string
	fn   func(ctx context.Context) error
}

// New builds the source and every selected sink. Stores are connected once
// here and released by Close.
func New(ctx context.Context, cfg *config.Config, deps source.Deps) (*App, error) {
	src, err := source.New(cfg, cfg.Source.Kind, deps)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireSinks(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w: %v", core.ErrConfig, err)
	}

	a := &App{cfg: cfg, source: src, registry: reg, metrics: m}
	if c, ok := src.(core.Checker); ok {
		a.checks = append(a.checks, check{name: "source " + src.Describe().Kind, fn: c.Check})
	}
	if c, ok := src.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { c.Close() })
	}

	if err := a.buildSinks(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildSinks(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	var sinks []core.Sink

	for _, name := range a.cfg.Output.Sinks {
		switch strings.ToLower(name) {
		case config.SinkCSV:
			a.csv = sink.NewWideCSV(a.cfg.Output.CSVFile, csvKeys(a.source))
			sinks = append(sinks, a.csv)

		case config.SinkInflux:
			primary := sink.NewInflux(sink.InfluxConfigFrom(a.cfg, false))
			a.closers = append(a.closers, primary.Close)
			a.checks = append(a.checks, check{name: "influx", fn: primary.Ping})

			var s core.Sink = primary
			if a.cfg.Influx.LegacyEnabled {
				legacy := sink.NewInfluxWithClient(primary.Client(), sink.InfluxConfigFrom(a.cfg, true))
				s = sink.Tee(primary, sink.Reduce(legacy, core.KeyTemperature))
			}
			sinks = append(sinks, s)

		case config.SinkPostgres:
			pool, err := sink.OpenPool(ctx, a.cfg.Database)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, pool.Close)
			a.checks = append(a.checks, check{name: "postgres", fn: func(ctx context.Context) error {
				if err := pool.Ping(ctx); err != nil {
					return fmt.Errorf("postgres: %w: %v", core.ErrTransport, err)
				}
				return nil
			}})

			pg := sink.NewPostgres(pool, a.cfg.Database.Table, a.cfg.Influx.Measurement)
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
			sinks = append(sinks, pg)

		default:
			return fmt.Errorf("%w: unknown sink %q", core.ErrConfig, name)
		}
		logger.Debug("sink ready", "sink", name)
	}

	if len(sinks) == 0 {
		return fmt.Errorf("%w: OUTPUT_SINKS selects no sink", core.ErrConfig)
	}
	a.sink = sink.Multi(sinks...)
	return nil
}

// csvKeys returns the CSV columns: the requested telemetry keys for REST,
// the canonical schema otherwise.
func csvKeys(src core.Source) []core.Key {
	if k, ok := src.(interface{ Keys() []core.Key }); ok {
		return k.Keys()
	}
	return core.DefaultSchema().Keys()
}

// Source returns the configured source.
func (a *App) Source() core.Source { return a.source }

// Registry returns the metrics registry served on /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Close releases store clients and the source.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// CheckResult is the outcome of one connectivity probe.
type CheckResult struct {
	Name string
	Err  error
}

// Check runs every connectivity probe and returns all results. The error
// is the first fatal one, if any.
func (a *App) Check(ctx context.Context) ([]CheckResult, error) {
	logger := logging.FromContext(ctx)
	var results []CheckResult
	var fatal error

	for _, c := range a.checks {
		err := c.fn(ctx)
		results = append(results, CheckResult{Name: c.name, Err: err})
		if err != nil {
			logger.Warn("check failed", "check", c.name, "kind", core.KindOf(err), "error", err)
			if fatal == nil && core.IsFatal(err) {
				fatal = err
			}
			continue
		}
		logger.Info("check passed", "check", c.name)
	}
	return results, fatal
}

// Fetch runs one manual cycle against all sinks.
func (a *App) Fetch(ctx context.Context) poll.Result {
	loop := poll.NewLoop(a.source, a.sink, poll.Options{FetchTimeout: a.cfg.Poll.FetchTimeout}, a.metrics)
	return loop.RunCycle(ctx, core.Sample{Trigger: core.TriggerManual})
}

// Export reads the REST history over [start, end] into the wide CSV file
// and returns the number of rows written.
func (a *App) Export(ctx context.Context, start, end time.Time, path string) (int, error) {
	rs, ok := a.source.(core.RangeSource)
	if !ok {
		return 0, fmt.Errorf("%w: source %q cannot export history", core.ErrConfig, a.source.Describe().Kind)
	}
	if path == "" {
		path = a.cfg.Output.CSVFile
	}

	rows, keys, err := rs.FetchRange(ctx, start, end)
	if err != nil {
		return 0, err
	}

	out := sink.NewWideCSV(path, keys)
	out.WriteRows(rows)
	if err := out.WriteFile(); err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Info("export written", "path", path, "rows", out.Len(), "columns", len(keys))
	return out.Len(), nil
}

// Poll runs the sampling loop until ctx is cancelled. File sources are
// also watched for changes; the status server runs when STATUS_ADDR is set.
func (a *App) Poll(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	loop := poll.NewLoop(a.source, a.sink, poll.Options{
		Interval:     a.cfg.Poll.Interval,
		FetchTimeout: a.cfg.Poll.FetchTimeout,
		KeepLastGood: a.cfg.Poll.KeepLastGood,
	}, a.metrics)

	if p, ok := a.source.(interface{ Path() string }); ok && p.Path() != "" {
		w, err := poll.NewWatcher([]string{p.Path()}, a.cfg.Poll.WatchCooldown, a.metrics)
		if err != nil {
			return err
		}
		if a.csv != nil {
			w.Ignore(a.csv.Path())
		}
		loop.SetWatcher(w)
		logger.Info("watching for changes", "path", p.Path(), "cooldown", a.cfg.Poll.WatchCooldown)
	}

	var srv *web.Server
	if a.cfg.Status.Addr != "" {
		srv = web.NewServer(loop, a.registry, a.cfg.Status)
		go func() {
			if err := srv.Start(a.cfg.Status.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server stopped", "error", err)
			}
		}()
	}

	err := loop.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Status.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}
	return err
}
