// Package engine runs the monitor loop: it owns the sensor state store, the
// debounce table and the fetch cursor, and drives one cycle at a time.
package engine

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wilhg/sentinel/pkg/alert"
	"github.com/wilhg/sentinel/pkg/detect"
	"github.com/wilhg/sentinel/pkg/errmodel"
	"github.com/wilhg/sentinel/pkg/fetch"
	"github.com/wilhg/sentinel/pkg/metrics"
	"github.com/wilhg/sentinel/pkg/state"
	"github.com/wilhg/sentinel/pkg/store"
)

// Connector is the connection surface the engine drives. *conn.Manager implements it.
type Connector interface {
	Connect(ctx context.Context) error
	EnsureAlive(ctx context.Context) bool
	Close() error
	store.ReadingSource
	store.AlertWriter
}

// Config holds the loop timings.
type Config struct {
	PollInterval      time.Duration
	DebounceWindow    time.Duration
	Retention         time.Duration
	CleanupInterval   time.Duration
	BootstrapLookback time.Duration
	ErrorPause        time.Duration
	ReconnectPause    time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Second,
		DebounceWindow:    2 * time.Minute,
		Retention:         24 * time.Hour,
		CleanupInterval:   time.Hour,
		BootstrapLookback: fetch.DefaultLookback,
		ErrorPause:        5 * time.Second,
		ReconnectPause:    30 * time.Second,
	}
}

// ReapEvery returns how many cycles pass between two reaps.
func (c Config) ReapEvery() int {
	if c.PollInterval <= 0 || c.CleanupInterval <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(c.CleanupInterval) / float64(c.PollInterval)))
	return max(n, 1)
}

// Report summarizes one cycle.
type Report struct {
	CycleID    string
	Fetched    int
	Rejected   int
	Abnormal   int
	Composite  int
	Suppressed int
	Failed     int
	Groups     int
	Reaped     int
}

// Engine is the single owner of the monitor's mutable state. Only Phase and
// Health may be called from other goroutines.
type Engine struct {
	cfg  Config
	conn Connector
	now  func() time.Time
	log  *zap.Logger

	fetcher  *fetch.Fetcher
	states   *state.Store
	debounce *detect.Debouncer
	sink     *alert.Sink
	agg      *detect.Aggregator

	cursor    fetch.Cursor
	cycles    int
	reapEvery int

	phase atomic.Int32
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithConfig replaces the default timings. Non-positive fields keep their default.
func WithConfig(c Config) Option {
	return func(e *Engine) {
		d := DefaultConfig()
		pick := func(v, def time.Duration) time.Duration {
			if v > 0 {
				return v
			}
			return def
		}
		e.cfg = Config{
			PollInterval:      pick(c.PollInterval, d.PollInterval),
			DebounceWindow:    pick(c.DebounceWindow, d.DebounceWindow),
			Retention:         pick(c.Retention, d.Retention),
			CleanupInterval:   pick(c.CleanupInterval, d.CleanupInterval),
			BootstrapLookback: pick(c.BootstrapLookback, d.BootstrapLookback),
			ErrorPause:        pick(c.ErrorPause, d.ErrorPause),
			ReconnectPause:    pick(c.ReconnectPause, d.ReconnectPause),
		}
	}
}

// WithClock overrides time.Now for state timestamps, alert times and the cursor.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New builds an engine over c. The engine does not connect until Run.
func New(c Connector, opts ...Option) *Engine {
	e := &Engine{cfg: DefaultConfig(), conn: c, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.states = state.New()
	e.debounce = detect.NewDebouncer(e.cfg.DebounceWindow)
	e.fetcher = fetch.New(c,
		fetch.WithLookback(e.cfg.BootstrapLookback),
		fetch.WithClock(e.now),
		fetch.WithLogger(e.log),
	)
	e.sink = alert.NewSink(c, e.log)
	e.agg = detect.NewAggregator(e.states, e.debounce, e.sink, e.log)
	e.reapEvery = e.cfg.ReapEvery()
	e.log = e.log.Named("engine")
	e.phase.Store(int32(PhaseStarting))
	return e
}

// Cursor returns the current fetch watermark.
func (e *Engine) Cursor() fetch.Cursor { return e.cursor }

// States exposes the state store for inspection.
func (e *Engine) States() *state.Store { return e.states }

// Cycle runs fetch, state update, abnormal alerts, composite evaluation of every
// touched observation group in ascending id order and, every ReapEvery cycles,
// the reaper. A fetch error leaves the cursor untouched.
func (e *Engine) Cycle(ctx context.Context) (Report, error) {
	start := time.Now()
	rep := Report{CycleID: uuid.NewString()}
	ctx, span := otel.Tracer("engine").Start(ctx, "Engine.Cycle", trace.WithAttributes(
		attribute.String("cycle.id", rep.CycleID),
	))
	defer span.End()
	log := e.log.With(zap.String("cycle_id", rep.CycleID))

	batch, next, err := e.fetcher.Fetch(ctx, e.cursor)
	if err != nil {
		span.RecordError(err)
		return rep, err
	}
	e.cursor = next

	touched := make(map[int64]struct{})
	for r := range batch.All() {
		now := e.now()
		st := e.states.Update(r, now)
		touched[st.ObservationID] = struct{}{}
		sig, ok := detect.Abnormal(st)
		if !ok {
			continue
		}
		if e.sink.Insert(ctx, detect.AbnormalAlert(st, sig, now)) {
			rep.Abnormal++
		} else {
			rep.Failed++
		}
	}
	rep.Fetched, rep.Rejected = batch.Valid(), batch.Rejected()
	if rep.Fetched > 0 || rep.Rejected > 0 {
		log.Info("fetched readings", zap.Int("valid", rep.Fetched), zap.Int("rejected", rep.Rejected))
	}

	groups := slices.Sorted(maps.Keys(touched))
	rep.Groups = len(groups)
	for _, obs := range groups {
		switch res := e.agg.Evaluate(ctx, obs, e.now()); res.Outcome {
		case detect.OutcomeEmitted:
			rep.Composite++
		case detect.OutcomeSuppressed:
			rep.Suppressed++
		case detect.OutcomeFailed:
			rep.Failed++
		}
	}

	e.cycles++
	if e.cycles%e.reapEvery == 0 {
		rep.Reaped = e.Reap(e.now())
	}

	metrics.TrackedSensors.Set(float64(e.states.Len()))
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("readings.valid", rep.Fetched),
		attribute.Int("readings.rejected", rep.Rejected),
		attribute.Int("groups", rep.Groups),
		attribute.Int("alerts.abnormal", rep.Abnormal),
		attribute.Int("alerts.composite", rep.Composite),
	)
	return rep, nil
}

// Reap drops sensor states and debounce entries older than the retention horizon
// and returns the total removed.
func (e *Engine) Reap(now time.Time) int {
	cutoff := now.Add(-e.cfg.Retention)
	sensors := e.states.Reap(cutoff)
	keys := e.debounce.Reap(cutoff)
	metrics.Evictions.WithLabelValues("sensor_state").Add(float64(sensors))
	metrics.Evictions.WithLabelValues("debounce").Add(float64(keys))
	if sensors+keys > 0 {
		e.log.Info("reaped stale entries",
			zap.Int("sensor_states", sensors),
			zap.Int("debounce_entries", keys),
			zap.Time("cutoff", cutoff),
		)
	}
	return sensors + keys
}

// Run connects and loops until ctx is cancelled. It returns a system error with
// code initial_connect_failed when the first connect is exhausted, and nil on
// cancellation. Cycle errors and panics are logged and contained.
func (e *Engine) Run(ctx context.Context) error {
	e.setPhase(PhaseStarting)
	if err := e.conn.Connect(ctx); err != nil {
		e.setPhase(PhaseStopped)
		return errmodel.System("initial_connect_failed", "initial store connection failed", nil, err)
	}
	defer func() {
		if err := e.conn.Close(); err != nil {
			e.log.Warn("closing store", zap.Error(err))
		}
		e.setPhase(PhaseStopped)
		e.log.Info("monitor stopped")
	}()
	e.setPhase(PhaseRunning)
	e.log.Info("monitor started",
		zap.Duration("poll_interval", e.cfg.PollInterval),
		zap.Duration("debounce_window", e.cfg.DebounceWindow),
		zap.Int("reap_every", e.reapEvery),
	)

	for ctx.Err() == nil {
		if !e.conn.EnsureAlive(ctx) {
			if ctx.Err() != nil {
				return nil
			}
			e.setPhase(PhaseDegraded)
			metrics.Cycles.WithLabelValues("disconnected").Inc()
			e.log.Warn("store unreachable, pausing", zap.Duration("pause", e.cfg.ReconnectPause))
			sleep(ctx, e.cfg.ReconnectPause)
			continue
		}

		// In-flight store calls finish even if shutdown is requested mid-cycle.
		rep, err := e.safeCycle(context.WithoutCancel(ctx))
		if err != nil {
			e.setPhase(PhaseDegraded)
			metrics.Cycles.WithLabelValues("failed").Inc()
			e.log.Error("monitor cycle failed", zap.String("cycle_id", rep.CycleID), zap.Error(err))
			sleep(ctx, e.cfg.ErrorPause)
			continue
		}
		e.setPhase(PhaseRunning)
		metrics.Cycles.WithLabelValues("ok").Inc()
		sleep(ctx, e.cfg.PollInterval)
	}
	return nil
}

func (e *Engine) safeCycle(ctx context.Context) (rep Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errmodel.System("cycle_failed", fmt.Sprintf("panic: %v", r), nil, nil)
		}
	}()
	rep, err = e.Cycle(ctx)
	if err != nil {
		return rep, errmodel.System("cycle_failed", "monitor cycle failed", map[string]any{"cycle_id": rep.CycleID}, err)
	}
	return rep, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
