package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/sink"
)

func loaderFor(env map[string]string) func() (*config.Config, error) {
	return func() (*config.Config, error) {
		return config.LoadFunc(func(k string) string { return env[k] })
	}
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"no args", nil, 0, "Commands:"},
		{"help", []string{"help"}, 0, "poll"},
		{"dash h", []string{"-h"}, 0, "export"},
		{"unknown", []string{"record"}, 1, `unknown command "record"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			load := func() (*config.Config, error) {
				t.Fatal("configuration must not be loaded")
				return nil, nil
			}
			if code := run(context.Background(), tt.args, &out, load); code != tt.wantCode {
				t.Errorf("run() = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output missing %q:\n%s", tt.wantOut, out.String())
			}
		})
	}
}

func TestRun_ConfigFailures(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"invalid config", []string{"fetch"}, map[string]string{"LOG_LEVEL": "loud"}},
		{"archive without file", []string{"fetch"}, map[string]string{"SOURCE_KIND": "archive", "OUTPUT_SINKS": "csv"}},
		{"influx without token", []string{"test"}, map[string]string{"SOURCE_KIND": "archive", "DWSIM_FILE": "x.xml"}},
		{"bad poll interval", []string{"poll", "-interval", "0s"}, map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if code := run(context.Background(), tt.args, &out, loaderFor(tt.env)); code != 1 {
				t.Errorf("run() = %d, want 1; output:\n%s", code, out.String())
			}
		})
	}
}

func TestRun_Export(t *testing.T) {
	tb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			fmt.Fprint(w, `{"token":"tok"}`)
			return
		}
		fmt.Fprint(w, `{"temperature":[{"ts":1000,"value":"20"}],"humidity":[{"ts":1000,"value":"55"}]}`)
	}))
	defer tb.Close()

	path := filepath.Join(t.TempDir(), "history.csv")
	env := map[string]string{
		"SOURCE_KIND":          "rest",
		"THINGSBOARD_HOST":     tb.URL,
		"THINGSBOARD_USERNAME": "u",
		"THINGSBOARD_PASSWORD": "p",
		"DEVICE_ID":            "dev-1",
	}

	var out bytes.Buffer
	// -since reaches back to the epoch so the fixture timestamp is inside the window.
	since := time.Since(time.UnixMilli(0)) + time.Hour
	code := run(context.Background(), []string{"export", "-since", since.String(), "-out", path}, &out, loaderFor(env))
	if code != 0 {
		t.Fatalf("run() = %d; output:\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "wrote 1 rows") {
		t.Errorf("output = %q", out.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "timestamp,temperature,humidity\n" + sink.FormatTimestamp(time.UnixMilli(1000)) + ",20,55\n"
	if string(data) != want {
		t.Errorf("csv =\n%s\nwant\n%s", data, want)
	}
}

func TestRun_FetchFailureKeepsExitZero(t *testing.T) {
	dir := t.TempDir()
	env := map[string]string{
		"SOURCE_KIND":     "archive",
		"DWSIM_FILE":      filepath.Join(dir, "missing.xml"),
		"OUTPUT_SINKS":    "csv",
		"OUTPUT_CSV_FILE": filepath.Join(dir, "out.csv"),
	}
	var out bytes.Buffer
	if code := run(context.Background(), []string{"fetch"}, &out, loaderFor(env)); code != 0 {
		t.Errorf("run() = %d, want 0; output:\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "cycle 1:") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_PollStartupAuthFailure(t *testing.T) {
	tb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tb.Close()

	env := map[string]string{
		"SOURCE_KIND":          "rest",
		"THINGSBOARD_HOST":     tb.URL,
		"THINGSBOARD_USERNAME": "u",
		"THINGSBOARD_PASSWORD": "wrong",
		"DEVICE_ID":            "dev-1",
		"OUTPUT_SINKS":         "csv",
		"OUTPUT_CSV_FILE":      filepath.Join(t.TempDir(), "out.csv"),
	}
	var out bytes.Buffer
	if code := run(context.Background(), []string{"poll"}, &out, loaderFor(env)); code != 1 {
		t.Errorf("run() = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "AUTH001") {
		t.Errorf("output = %q, want AUTH001", out.String())
	}
}

func TestPollFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		kind     string
		wantKind string
		wantErr  error
		check    func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "defaults keep configuration", kind: "rest", wantKind: "rest",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Poll.Interval != 10*time.Second {
					t.Errorf("interval = %s", cfg.Poll.Interval)
				}
			},
		},
		{
			name: "file selects archive", args: []string{"-file", "sim.dwxmz", "-interval", "30s"}, kind: "rest", wantKind: "archive",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Source.File != "sim.dwxmz" || cfg.Poll.Interval != 30*time.Second {
					t.Errorf("file = %q interval = %s", cfg.Source.File, cfg.Poll.Interval)
				}
			},
		},
		{
			name: "folder selects export", args: []string{"-folder", "exports", "-stream", "Feed"}, kind: "archive", wantKind: "export",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Source.ExportFolder != "exports" || cfg.Source.Stream != "Feed" {
					t.Errorf("folder = %q stream = %q", cfg.Source.ExportFolder, cfg.Source.Stream)
				}
			},
		},
		{name: "file and folder", args: []string{"-file", "a.xml", "-folder", "b"}, wantErr: core.ErrConfig},
		{name: "negative interval", args: []string{"-interval", "-1s"}, wantErr: core.ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadFunc(func(k string) string {
				if k == "SOURCE_KIND" {
					return tt.kind
				}
				return ""
			})
			if err != nil {
				t.Fatal(err)
			}
			pf, err := parsePollFlags(cfg, tt.args, &bytes.Buffer{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("parsePollFlags() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePollFlags() error = %v", err)
			}
			pf.apply(cfg)
			if cfg.Source.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", cfg.Source.Kind, tt.wantKind)
			}
			tt.check(t, cfg)
		})
	}
}

func TestReport(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantDetail bool
	}{
		{"coded error", fmt.Errorf("rest: %w: 401", core.ErrAuth), "AUTH001", false},
		{"uncoded error", errors.New("disk on fire"), "UNK001", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			report(&out, tt.err)
			if !strings.Contains(out.String(), tt.wantCode) {
				t.Errorf("output = %q, want code %s", out.String(), tt.wantCode)
			}
			if got := strings.Contains(out.String(), "detail: "+tt.err.Error()); got != tt.wantDetail {
				t.Errorf("detail printed = %v, want %v; output = %q", got, tt.wantDetail, out.String())
			}
		})
	}
}
