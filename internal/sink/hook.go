// Package sink writes normalized measurements to their destinations: a wide
// CSV table, an InfluxDB bucket, or a PostgreSQL table. Tee, Reduce and
// Multi compose sinks without the destinations knowing about each other.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/telemetry-recorder/internal/core"
	"github.com/JonMunkholm/telemetry-recorder/internal/logging"
)

type tee struct {
	primary     core.Sink
	secondaries []core.Sink
}

// Tee writes to primary and then to each secondary. Only the primary's
// error is returned; secondary failures are logged. Secondaries run even
// when the primary fails.
func Tee(primary core.Sink, secondaries ...core.Sink) core.Sink {
	return &tee{primary: primary, secondaries: secondaries}
}

func (t *tee) Write(ctx context.Context, m core.Measurement, src core.SourceDescriptor, ts time.Time) error {
	err := t.primary.Write(ctx, m, src, ts)
	for i, s := range t.secondaries {
		if serr := s.Write(ctx, m, src, ts); serr != nil {
			logging.FromContext(ctx).Warn("secondary sink write failed",
				"secondary", i,
				"kind", core.KindOf(serr),
				"error", serr,
			)
		}
	}
	return err
}

type reduce struct {
	sink core.Sink
	keys []core.Key
}

// Reduce passes only the given keys to sink. A record holding none of them
// is skipped without a write.
func Reduce(sink core.Sink, keys ...core.Key) core.Sink {
	return &reduce{sink: sink, keys: keys}
}

func (r *reduce) Write(ctx context.Context, m core.Measurement, src core.SourceDescriptor, ts time.Time) error {
	sub := m.Only(r.keys...)
	if sub.IsEmpty() {
		return nil
	}
	return r.sink.Write(ctx, sub, src, ts)
}

type multi []core.Sink

// Multi writes to every sink in order and joins their errors.
func Multi(sinks ...core.Sink) core.Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return multi(sinks)
}

func (ms multi) Write(ctx context.Context, m core.Measurement, src core.SourceDescriptor, ts time.Time) error {
	var errs []error
	for _, s := range ms {
		if err := s.Write(ctx, m, src, ts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
