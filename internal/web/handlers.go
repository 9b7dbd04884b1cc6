package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
)

type sourceInfo struct {
	Kind       string `json:"kind"`
	Stream     string `json:"stream,omitempty"`
	Simulation string `json:"simulation,omitempty"`
}

type healthResponse struct {
	Status        string     `json:"status"`
	State         string     `json:"state"`
	Cycles        uint64     `json:"cycles"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Source        sourceInfo `json:"source"`
}

type lastResponse struct {
	Cycle  uint64               `json:"cycle"`
	Time   time.Time            `json:"time"`
	Source sourceInfo           `json:"source"`
	Values map[core.Key]float64 `json:"values"`
}

func describe(d core.SourceDescriptor) sourceInfo {
	return sourceInfo{Kind: d.Kind, Stream: d.Stream, Simulation: d.Simulation}
}

// handleHealth reports liveness and loop progress. It always answers 200
// while the process runs; cycle failures show up in /metrics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthResponse{
		Status:        "ok",
		State:         s.status.State().String(),
		Cycles:        s.status.Seq(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Source:        describe(s.status.Source()),
	})
}

// handleLast returns the most recent record written to the sinks.
func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.status.LastGood()
	if !ok {
		respondError(w, r, fmt.Errorf("%w: no record written yet", core.ErrNotFound), http.StatusNotFound)
		return
	}
	writeJSON(w, lastResponse{
		Cycle:  rec.Seq,
		Time:   rec.Time.UTC(),
		Source: describe(rec.Source),
		Values: rec.Measurement.Values(),
	})
}
