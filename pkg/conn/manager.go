// Package conn owns the monitor's single store handle: bounded-retry connects,
// liveness checks and transparent reconnects.
package conn

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/wilhg/sentinel/pkg/errmodel"
	"github.com/wilhg/sentinel/pkg/metrics"
	"github.com/wilhg/sentinel/pkg/store"
)

// Dialer opens a fresh store handle.
type Dialer func(ctx context.Context) (store.Store, error)

const (
	DefaultAttempts = 3
	DefaultDelay    = 5 * time.Second
)

// Manager holds at most one live handle. It is used by the engine goroutine only.
type Manager struct {
	dial     Dialer
	attempts uint
	delay    time.Duration
	log      *zap.Logger

	cur store.Store
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetry sets the number of connect attempts and the fixed delay between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.attempts = uint(attempts)
		}
		if delay > 0 {
			m.delay = delay
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager returns a disconnected manager.
func NewManager(dial Dialer, opts ...Option) *Manager {
	m := &Manager{dial: dial, attempts: DefaultAttempts, delay: DefaultDelay, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("conn")
	return m
}

// Connected reports whether a handle is held. It does not ping.
func (m *Manager) Connected() bool { return m.cur != nil }

// Connect dials until a handle answers a ping or attempts are exhausted.
func (m *Manager) Connect(ctx context.Context) error {
	attempt := 0
	op := func() (store.Store, error) {
		attempt++
		st, err := m.dial(ctx)
		if err != nil {
			metrics.ConnectAttempts.WithLabelValues("failure").Inc()
			return nil, err
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			metrics.ConnectAttempts.WithLabelValues("failure").Inc()
			return nil, err
		}
		metrics.ConnectAttempts.WithLabelValues("success").Inc()
		return st, nil
	}
	notify := func(err error, next time.Duration) {
		m.log.Warn("store connection failed",
			zap.Int("attempt", attempt),
			zap.Uint("max_attempts", m.attempts),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}
	st, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.delay)),
		backoff.WithMaxTries(m.attempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		m.log.Error("store connection attempts exhausted", zap.Int("attempts", attempt), zap.Error(err))
		return errmodel.Connectivity("connect_exhausted", "could not connect to the store",
			map[string]any{"attempts": attempt}, err)
	}
	m.cur = st
	m.log.Info("store connected", zap.Int("attempts", attempt))
	return nil
}

// EnsureAlive pings the held handle and reconnects when it is dead or absent.
// It reports whether a usable handle is held afterwards.
func (m *Manager) EnsureAlive(ctx context.Context) bool {
	if m.cur != nil {
		err := m.cur.Ping(ctx)
		if err == nil {
			return true
		}
		m.log.Warn("store connection lost, reconnecting", zap.Error(err))
		m.drop()
	}
	return m.Connect(ctx) == nil
}

// ListReadingsSince delegates to the live handle.
func (m *Manager) ListReadingsSince(ctx context.Context, since time.Time) ([]store.ReadingRecord, error) {
	if m.cur == nil {
		return nil, errNotConnected()
	}
	rows, err := m.cur.ListReadingsSince(ctx, since)
	if err != nil {
		return nil, errmodel.Connectivity("query_failed", "listing readings failed", nil, err)
	}
	return rows, nil
}

// AppendAlert delegates to the live handle.
func (m *Manager) AppendAlert(ctx context.Context, a store.AlertRecord) (store.AlertRecord, error) {
	if m.cur == nil {
		return store.AlertRecord{}, errNotConnected()
	}
	out, err := m.cur.AppendAlert(ctx, a)
	if err != nil {
		return store.AlertRecord{}, errmodel.Storage("insert_failed", "appending alert failed",
			map[string]any{"alert_type": a.AlertType, "observation_id": a.ObservationID}, err)
	}
	return out, nil
}

// Close releases the held handle, if any.
func (m *Manager) Close() error {
	if m.cur == nil {
		return nil
	}
	err := m.cur.Close()
	m.cur = nil
	if err != nil {
		return errmodel.Connectivity("close_failed", "closing store failed", nil, err)
	}
	m.log.Info("store connection closed")
	return nil
}

func (m *Manager) drop() {
	if err := m.cur.Close(); err != nil {
		m.log.Debug("closing stale handle", zap.Error(err))
	}
	m.cur = nil
}

func errNotConnected() error {
	return errmodel.Connectivity("not_connected", "no store connection", nil, nil)
}
