// Package poll drives sampling cycles: fetch from a source, write to a
// sink, on a timer and on file changes.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
	"github.com/JonMunkholm/telemetry-recorder/internal/metrics"
)

// State is the loop's current activity.
type State int32

const (
	Idle State = iota
	Sampling
)

func (s State) String() string {
	if s == Sampling {
		return "sampling"
	}
	return "idle"
}

// Options configure a Loop. Zero values get defaults.
type Options struct {
	Interval     time.Duration // timer period; negative disables the timer
	FetchTimeout time.Duration // per-cycle fetch bound (default: 5s)
	KeepLastGood bool          // re-write the last record when the source is absent
}

// Result describes one finished cycle.
type Result struct {
	Seq      uint64
	Trigger  core.Trigger
	Outcome  string // one of the metrics.Outcome* values
	Keys     int
	Duration time.Duration
	Err      error
}

// Loop runs sampling cycles one at a time.
type Loop struct {
	source  core.Source
	sink    core.Sink
	opts    Options
	metrics *metrics.Recorder
	watcher *Watcher
	now     func() time.Time

	mu       sync.Mutex // serializes cycles
	seq      atomic.Uint64
	state    atomic.Int32
	lastGood LastGood
}

// NewLoop creates a loop. A nil metrics recorder disables metrics.
func NewLoop(src core.Source, sink core.Sink, opts Options, m *metrics.Recorder) *Loop {
	if opts.Interval == 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	return &Loop{source: src, sink: sink, opts: opts, metrics: m, now: time.Now}
}

// SetWatcher adds file-change triggers. Call before Run.
func (l *Loop) SetWatcher(w *Watcher) { l.watcher = w }

// State reports whether a cycle is in progress.
func (l *Loop) State() State { return State(l.state.Load()) }

// Seq returns the number of cycles started.
func (l *Loop) Seq() uint64 { return l.seq.Load() }

// LastGood returns the most recent written record.
func (l *Loop) LastGood() (Record, bool) { return l.lastGood.Load() }

// Source describes the loop's source.
func (l *Loop) Source() core.SourceDescriptor { return l.source.Describe() }

// Run executes a cycle immediately, then on every tick and accepted file
// event, until ctx is cancelled. Failed cycles are logged and the loop
// waits for the next trigger.
func (l *Loop) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	logger.Info("poll loop started",
		"interval", l.opts.Interval,
		"fetch_timeout", l.opts.FetchTimeout,
		"keep_last_good", l.opts.KeepLastGood,
		"watching", l.watcher != nil,
	)

	var tick <-chan time.Time
	if l.opts.Interval > 0 {
		ticker := time.NewTicker(l.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var fileEvents <-chan string
	if l.watcher != nil {
		go l.watcher.Run(ctx)
		fileEvents = l.watcher.Events()
	}

	l.RunCycle(ctx, core.Sample{Trigger: core.TriggerTimer})

	for {
		select {
		case <-ctx.Done():
			logger.Info("poll loop stopped", "cycles", l.Seq())
			return nil
		case <-tick:
			l.RunCycle(ctx, core.Sample{Trigger: core.TriggerTimer})
		case path := <-fileEvents:
			l.RunCycle(ctx, core.Sample{Trigger: core.TriggerFile, Path: path})
		}
	}
}

// RunCycle fetches one sample and writes it. It is safe to call from any
// goroutine; concurrent calls run one after another.
func (l *Loop) RunCycle(ctx context.Context, sample core.Sample) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Store(int32(Sampling))
	defer l.state.Store(int32(Idle))

	sample.Seq = l.seq.Add(1)
	sample.StartedAt = l.now()
	if sample.Trigger == "" {
		sample.Trigger = core.TriggerManual
	}

	ctx = logging.WithCycle(ctx, sample.Seq)
	src := l.source.Describe()
	logger := logging.WithFields(ctx, "trigger", string(sample.Trigger), "source", src.Kind)
	if sample.Path != "" {
		logger = logger.With("path", sample.Path)
	}

	res := Result{Seq: sample.Seq, Trigger: sample.Trigger}
	finish := func(outcome string) Result {
		res.Outcome = outcome
		res.Duration = time.Since(sample.StartedAt)
		l.metrics.Cycle(outcome, res.Duration, l.now())
		return res
	}

	logger.Debug("cycle started")

	fetchCtx, cancel := context.WithTimeout(ctx, l.opts.FetchTimeout)
	m, ok, err := l.source.Fetch(fetchCtx)
	cancel()
	if err != nil {
		msg := core.MapError(err)
		logger.Error("fetch failed", "kind", core.KindOf(err), "code", msg.Code, "error", err)
		l.metrics.FetchError(core.KindOf(err))
		res.Err = err
		return finish(metrics.OutcomeFailed)
	}

	outcome := metrics.OutcomeWritten
	if !ok {
		rec, cached := l.lastGood.Load()
		if !l.opts.KeepLastGood || !cached {
			logger.Info("no data from source")
			return finish(metrics.OutcomeAbsent)
		}
		logger.Info("no data from source, re-writing last good record", "from_cycle", rec.Seq)
		m = rec.Measurement
		outcome = metrics.OutcomeStale
	}
	res.Keys = m.Len()

	ts := l.now()
	if err := l.sink.Write(ctx, m, src, ts); err != nil {
		msg := core.MapError(err)
		logger.Error("write failed", "kind", core.KindOf(err), "code", msg.Code, "error", err)
		l.metrics.WriteError()
		res.Err = err
		return finish(metrics.OutcomeFailed)
	}

	if outcome == metrics.OutcomeWritten {
		l.lastGood.Store(Record{Measurement: m, Source: src, Time: ts, Seq: sample.Seq})
	}
	logger.Info("cycle completed", "outcome", outcome, "keys", res.Keys, "duration_ms", time.Since(sample.StartedAt).Milliseconds())
	return finish(outcome)
}
