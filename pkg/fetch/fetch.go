// Package fetch pulls readings newer than a watermark and validates them lazily.
package fetch

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/wilhg/sentinel/pkg/errmodel"
	"github.com/wilhg/sentinel/pkg/metrics"
	"github.com/wilhg/sentinel/pkg/reading"
	"github.com/wilhg/sentinel/pkg/store"
)

// DefaultLookback bounds the first fetch when no cursor exists yet.
const DefaultLookback = 10 * time.Minute

// Cursor is the fetch watermark. The zero value means no fetch has succeeded yet.
type Cursor time.Time

// IsZero reports whether the cursor is absent.
func (c Cursor) IsZero() bool { return time.Time(c).IsZero() }

// Time returns the watermark.
func (c Cursor) Time() time.Time { return time.Time(c) }

// Fetcher queries a ReadingSource relative to a cursor.
type Fetcher struct {
	src      store.ReadingSource
	lookback time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLookback sets the window used when the cursor is absent.
func WithLookback(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.lookback = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// New returns a Fetcher over src.
func New(src store.ReadingSource, opts ...Option) *Fetcher {
	f := &Fetcher{src: src, lookback: DefaultLookback, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.Named("fetch")
	return f
}

// Fetch lists rows strictly newer than the cursor, or newer than now-lookback
// when the cursor is absent. On success the returned cursor is the clock reading
// taken after the query, even for an empty batch. On error the cursor is returned
// unchanged.
func (f *Fetcher) Fetch(ctx context.Context, cur Cursor) (*Batch, Cursor, error) {
	since := cur.Time()
	if cur.IsZero() {
		since = f.now().Add(-f.lookback)
	}
	rows, err := f.src.ListReadingsSince(ctx, since)
	if err != nil {
		return nil, cur, errmodel.From(err)
	}
	next := Cursor(f.now())
	return &Batch{rows: rows, log: f.log}, next, nil
}

// Batch is the result of one fetch. Readings are validated as they are iterated.
type Batch struct {
	rows     []store.ReadingRecord
	log      *zap.Logger
	valid    int
	rejected int
}

// Len returns the number of raw rows, valid or not.
func (b *Batch) Len() int { return len(b.rows) }

// Valid returns how many rows passed validation so far.
func (b *Batch) Valid() int { return b.valid }

// Rejected returns how many rows were dropped so far.
func (b *Batch) Rejected() int { return b.rejected }

// All yields the valid readings in fetch order. Invalid rows are logged, counted
// and skipped. A batch should be ranged over once.
func (b *Batch) All() iter.Seq[reading.Reading] {
	return func(yield func(reading.Reading) bool) {
		for _, row := range b.rows {
			r, err := reading.Validate(reading.Raw(row))
			if err != nil {
				b.reject(row, err)
				continue
			}
			b.valid++
			metrics.ReadingsFetched.Inc()
			if !yield(r) {
				return
			}
		}
	}
}

func (b *Batch) reject(row store.ReadingRecord, err error) {
	b.rejected++
	ce := errmodel.From(err)
	metrics.ReadingsRejected.WithLabelValues(ce.Code).Inc()
	b.log.Warn("invalid reading skipped",
		zap.String("code", ce.Code),
		zap.Any("sensor_id", row[reading.FieldSensorID]),
		zap.Any("reading_type", row[reading.FieldType]),
		zap.Any("reading_value", row[reading.FieldValue]),
		zap.Error(err),
	)
}
