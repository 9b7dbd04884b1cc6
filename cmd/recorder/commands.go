package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/app"
	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
	"github.com/JonMunkholm/telemetry-recorder/internal/source"
)

const usage = `recorder - sample telemetry and forward it to CSV, InfluxDB or PostgreSQL

Usage:
  recorder <command> [flags]

Commands:
  fetch    sample the configured source once and write to every sink
  export   write the ThingsBoard history to the CSV file
           -since duration   look-back window (default: TELEMETRY_RANGE)
           -out path         output file (default: OUTPUT_CSV_FILE)
  test     check connectivity: source login or file, store pings
  poll     sample continuously on a timer and on file changes
           -interval duration   sampling period (default: POLL_INTERVAL)
           -file path           DWSIM archive to watch (selects the archive source)
           -folder path         export folder to watch (selects the export source)
           -stream name         material stream name (default: STREAM_NAME)
  help     show this text

Configuration is read from the environment and an optional .env file.
Sources: rest, archive, export, live, serial (SOURCE_KIND).
Sinks: csv, influx, postgres (OUTPUT_SINKS, comma separated).
`

// run executes one command and returns the process exit code. Only
// configuration and authentication failures exit non-zero; data failures
// are logged.
func run(ctx context.Context, args []string, out io.Writer, load func() (*config.Config, error)) int {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return 0
	}

	cmd, rest := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return 0
	case "fetch", "export", "test", "poll":
	default:
		fmt.Fprintf(out, "unknown command %q\n\n%s", args[0], usage)
		return 1
	}

	cfg, err := load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	ctx = logging.WithRunID(ctx)

	switch cmd {
	case "fetch":
		return runFetch(ctx, cfg, out)
	case "export":
		return runExport(ctx, cfg, rest, out)
	case "test":
		return runTest(ctx, cfg, out)
	default:
		return runPoll(ctx, cfg, rest, out)
	}
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	if err != nil && core.IsFatal(err) {
		return 1
	}
	return 0
}

// helpCode is the exit code after a flag parse error: 0 for -h.
func helpCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 1
}

// report prints the user message for err. Errors without a specific code
// also print their detail, since the fallback message says nothing.
func report(out io.Writer, err error) {
	fmt.Fprintln(out, "error:", core.FormatUserError(err))
	if !core.IsUserFacing(err) {
		fmt.Fprintln(out, "detail:", err)
	}
}

func build(ctx context.Context, cfg *config.Config) (*app.App, error) {
	slog.Debug("configuration loaded", "config", cfg.String())
	return app.New(ctx, cfg, source.Deps{})
}

func runFetch(ctx context.Context, cfg *config.Config, out io.Writer) int {
	a, err := build(ctx, cfg)
	if err != nil {
		report(out, err)
		return 1
	}
	defer a.Close()

	res := a.Fetch(ctx)
	fmt.Fprintf(out, "cycle %d: %s (%d keys, %s)\n", res.Seq, res.Outcome, res.Keys, res.Duration.Round(time.Millisecond))
	if res.Err != nil {
		report(out, res.Err)
	}
	return exitCode(res.Err)
}

func runExport(ctx context.Context, cfg *config.Config, args []string, out io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(out)
	since := fs.Duration("since", cfg.Telemetry.Range, "look-back window")
	path := fs.String("out", cfg.Output.CSVFile, "output CSV file")
	if err := fs.Parse(args); err != nil {
		return helpCode(err)
	}

	// History goes to the CSV file only; other sinks are not opened.
	cfg.Output.Sinks = []string{config.SinkCSV}
	cfg.Output.CSVFile = *path

	a, err := build(ctx, cfg)
	if err != nil {
		report(out, err)
		return 1
	}
	defer a.Close()

	end := time.Now()
	n, err := a.Export(ctx, end.Add(-*since), end, "")
	if err != nil {
		report(out, err)
		return 1
	}
	fmt.Fprintf(out, "wrote %d rows to %s\n", n, *path)
	return 0
}

func runTest(ctx context.Context, cfg *config.Config, out io.Writer) int {
	a, err := build(ctx, cfg)
	if err != nil {
		report(out, err)
		return 1
	}
	defer a.Close()

	results, err := a.Check(ctx)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(out, "%-16s FAILED  %s\n", r.Name, core.FormatUserError(r.Err))
			continue
		}
		fmt.Fprintf(out, "%-16s ok\n", r.Name)
	}
	return exitCode(err)
}

// pollFlags are the poll command overrides.
type pollFlags struct {
	interval time.Duration
	file     string
	folder   string
	stream   string
}

func parsePollFlags(cfg *config.Config, args []string, out io.Writer) (pollFlags, error) {
	var pf pollFlags
	fs := flag.NewFlagSet("poll", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.DurationVar(&pf.interval, "interval", cfg.Poll.Interval, "sampling period")
	fs.StringVar(&pf.file, "file", "", "DWSIM archive to watch")
	fs.StringVar(&pf.folder, "folder", "", "export folder to watch")
	fs.StringVar(&pf.stream, "stream", "", "material stream name")
	if err := fs.Parse(args); err != nil {
		return pf, err
	}
	if pf.interval <= 0 {
		return pf, fmt.Errorf("%w: -interval must be positive", core.ErrConfig)
	}
	if pf.file != "" && pf.folder != "" {
		return pf, fmt.Errorf("%w: -file and -folder are mutually exclusive", core.ErrConfig)
	}
	return pf, nil
}

// apply writes the overrides into cfg. A file or folder also selects the
// matching source kind.
func (pf pollFlags) apply(cfg *config.Config) {
	cfg.Poll.Interval = pf.interval
	if pf.stream != "" {
		cfg.Source.Stream = pf.stream
	}
	switch {
	case pf.file != "":
		cfg.Source.File = pf.file
		if cfg.Source.Kind != config.SourceExport {
			cfg.Source.Kind = config.SourceArchive
		}
	case pf.folder != "":
		cfg.Source.ExportFolder = pf.folder
		cfg.Source.Kind = config.SourceExport
	}
}

func runPoll(ctx context.Context, cfg *config.Config, args []string, out io.Writer) int {
	pf, err := parsePollFlags(cfg, args, out)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			report(out, err)
		}
		return helpCode(err)
	}
	pf.apply(cfg)

	a, err := build(ctx, cfg)
	if err != nil {
		report(out, err)
		return 1
	}
	defer a.Close()

	// Startup auth and config failures are fatal; store pings only warn.
	if _, err := a.Check(ctx); err != nil {
		report(out, err)
		return 1
	}

	logger := logging.FromContext(ctx)
	logger.Info("polling started", "source", cfg.Source.Kind, "sinks", cfg.Output.Sinks, "interval", cfg.Poll.Interval)
	if err := a.Poll(ctx); err != nil {
		report(out, err)
		return exitCode(err)
	}
	logger.Info("polling stopped")
	return 0
}
