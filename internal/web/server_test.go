package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/telemetry-recorder/internal/config"
	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/metrics"
	"github.com/JonMunkholm/telemetry-recorder/internal/poll"
)

type fakeStatus struct {
	state poll.State
	seq   uint64
	rec   *poll.Record
}

func (f *fakeStatus) State() poll.State { return f.state }
func (f *fakeStatus) Seq() uint64       { return f.seq }
func (f *fakeStatus) Source() core.SourceDescriptor {
	return core.SourceDescriptor{Kind: "archive", Stream: "Water_i", Simulation: "MySimulation"}
}
func (f *fakeStatus) LastGood() (poll.Record, bool) {
	if f.rec == nil {
		return poll.Record{}, false
	}
	return *f.rec, true
}

func newTestServer(t *testing.T, status Status, token string) (*httptest.Server, *metrics.Recorder) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(status, reg, config.StatusConfig{Token: token, ReadTimeout: time.Second})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, m
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &fakeStatus{state: poll.Sampling, seq: 7}, "secret")

	resp := get(t, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.State != "sampling" || body.Cycles != 7 || body.Source.Stream != "Water_i" {
		t.Errorf("body = %+v", body)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, m := newTestServer(t, &fakeStatus{}, "")
	m.Cycle(metrics.OutcomeWritten, time.Millisecond, time.Now())

	resp := get(t, ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `recorder_cycles_total{outcome="written"} 1`) {
		t.Errorf("metrics output missing written counter:\n%s", body)
	}
}

func TestLast(t *testing.T) {
	rec := &poll.Record{
		Measurement: core.NewMeasurement(map[core.Key]float64{core.KeyTemperature: 25, core.KeyPressure: 1.5}),
		Source:      core.SourceDescriptor{Kind: "archive", Stream: "Water_i"},
		Time:        time.Unix(1700000000, 0),
		Seq:         3,
	}

	tests := []struct {
		name     string
		status   *fakeStatus
		token    string
		sent     string
		wantCode int
		wantErr  string
	}{
		{"no record yet", &fakeStatus{}, "", "", http.StatusNotFound, "NF001"},
		{"record", &fakeStatus{rec: rec}, "", "", http.StatusOK, ""},
		{"missing token", &fakeStatus{rec: rec}, "secret", "", http.StatusUnauthorized, "AUTH002"},
		{"wrong token", &fakeStatus{rec: rec}, "secret", "guess", http.StatusUnauthorized, "AUTH002"},
		{"valid token", &fakeStatus{rec: rec}, "secret", "secret", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, tt.status, tt.token)
			resp := get(t, ts.URL+"/api/last", tt.sent)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Content-Type = %q", ct)
			}

			if tt.wantErr != "" {
				var e ErrorResponse
				if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
					t.Fatal(err)
				}
				if e.Code != tt.wantErr {
					t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
				}
				return
			}

			var body lastResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Cycle != 3 || body.Source.Stream != "Water_i" {
				t.Errorf("body = %+v", body)
			}
			if body.Values[core.KeyPressure] != 1.5 || body.Values[core.KeyTemperature] != 25 {
				t.Errorf("values = %v", body.Values)
			}
			if !body.Time.Equal(rec.Time) {
				t.Errorf("time = %v, want %v", body.Time, rec.Time)
			}
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	ts, _ := newTestServer(t, &fakeStatus{}, "")
	resp := get(t, ts.URL+"/nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
