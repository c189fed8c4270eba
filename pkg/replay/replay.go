// Package replay runs a captured reading stream through the engine offline,
// one simulated poll at a time, and collects the alerts it would have raised.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/wilhg/sentinel/pkg/engine"
	"github.com/wilhg/sentinel/pkg/reading"
	"github.com/wilhg/sentinel/pkg/store"
)

// Capture is a recorded sequence of raw reading rows.
type Capture struct {
	Readings []store.ReadingRecord `json:"readings"`
}

// Load decodes a capture from JSON.
func Load(r io.Reader) (Capture, error) {
	var c Capture
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Capture{}, fmt.Errorf("decode capture: %w", err)
	}
	return c, nil
}

// Result is what a replay produced.
type Result struct {
	Alerts   []store.AlertRecord
	Cycles   int
	Fetched  int
	Rejected int
}

// Run replays c. The simulated clock starts at the earliest reading time and
// advances by cfg.PollInterval until every reading has been offered.
func Run(ctx context.Context, c Capture, cfg engine.Config, log *zap.Logger) (Result, error) {
	if len(c.Readings) == 0 {
		return Result{}, nil
	}
	src := newMemory(c.Readings)
	if src.first.IsZero() {
		return Result{}, errors.New("capture has no parseable reading time")
	}

	eng := engine.New(src, engine.WithConfig(cfg), engine.WithClock(src.Now), engine.WithLogger(log))
	if err := src.Connect(ctx); err != nil {
		return Result{}, err
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = engine.DefaultConfig().PollInterval
	}

	var res Result
	for src.clock = src.first; ; src.clock = src.clock.Add(poll) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rep, err := eng.Cycle(ctx)
		if err != nil {
			return res, err
		}
		res.Cycles++
		res.Fetched += rep.Fetched
		res.Rejected += rep.Rejected
		if !src.clock.Before(src.last) {
			break
		}
	}
	res.Alerts = src.alerts
	return res, nil
}

// memory serves capture rows by reading time relative to a simulated clock and
// records appended alerts.
type memory struct {
	rows  []timedRow
	first time.Time
	last  time.Time
	clock time.Time

	alerts []store.AlertRecord
}

type timedRow struct {
	at  time.Time // zero when the row's time does not parse
	row store.ReadingRecord
}

func newMemory(rows []store.ReadingRecord) *memory {
	m := &memory{rows: make([]timedRow, 0, len(rows))}
	for _, r := range rows {
		at, _ := cast.ToTimeE(r[reading.FieldTime])
		m.rows = append(m.rows, timedRow{at: at, row: r})
		if at.IsZero() {
			continue
		}
		if m.first.IsZero() || at.Before(m.first) {
			m.first = at
		}
		if at.After(m.last) {
			m.last = at
		}
	}
	slices.SortStableFunc(m.rows, func(a, b timedRow) int { return a.at.Compare(b.at) })
	return m
}

func (m *memory) Now() time.Time { return m.clock }

func (m *memory) Connect(ctx context.Context) error   { return nil }
func (m *memory) EnsureAlive(ctx context.Context) bool { return true }
func (m *memory) Close() error                        { return nil }

// ListReadingsSince returns rows in (since, clock]. Rows without a usable time
// are offered on the first poll so the validator can reject them.
func (m *memory) ListReadingsSince(ctx context.Context, since time.Time) ([]store.ReadingRecord, error) {
	var out []store.ReadingRecord
	for _, r := range m.rows {
		switch {
		case r.at.IsZero():
			if m.clock.Equal(m.first) {
				out = append(out, r.row)
			}
		case r.at.After(since) && !r.at.After(m.clock):
			out = append(out, r.row)
		}
	}
	return out, nil
}

func (m *memory) AppendAlert(ctx context.Context, a store.AlertRecord) (store.AlertRecord, error) {
	a.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, a)
	return a, nil
}
