package detect

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wilhg/sentinel/pkg/alert"
	"github.com/wilhg/sentinel/pkg/metrics"
	"github.com/wilhg/sentinel/pkg/state"
)

// MinCompositeSignals is the number of concurrently firing sensors needed for a
// composite alert.
const MinCompositeSignals = 2

// Inserter persists an alert and reports whether the write was confirmed.
type Inserter interface {
	Insert(ctx context.Context, a alert.Alert) bool
}

// Outcome of one composite evaluation.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeEmitted
	OutcomeSuppressed
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmitted:
		return "emitted"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// Result describes what Evaluate did.
type Result struct {
	Outcome Outcome
	Alert   alert.Alert
	Signals []Signal
}

// Composite aggregates the suspicious signals of a group, given ascending by
// sensor id. It reports false when fewer than MinCompositeSignals fire.
func Composite(group []state.SensorState, now time.Time) (alert.Alert, []Signal, bool) {
	var signals []Signal
	for _, st := range group {
		if sig, ok := Suspicious(st); ok {
			signals = append(signals, sig)
		}
	}
	count := len(signals)
	if count < MinCompositeSignals {
		return alert.Alert{}, signals, false
	}
	fragments := make([]string, 0, count)
	for _, sig := range signals {
		fragments = append(fragments, sig.Fragment)
	}
	return alert.Alert{
		SensorID:      group[0].SensorID,
		ObservationID: group[0].ObservationID,
		Kind:          alert.KindPoaching,
		Description:   strings.Join(fragments, ", "),
		Severity:      severityFor(count),
		Score:         math.Min(0.5+0.1*float64(count), 1.0),
		CreatedAt:     now,
	}, signals, true
}

func severityFor(count int) alert.Severity {
	switch {
	case count >= 4:
		return alert.SeverityCritical
	case count == 3:
		return alert.SeverityHigh
	default:
		return alert.SeverityMedium
	}
}

// Aggregator evaluates observation groups against the state store and emits
// debounced composite alerts.
type Aggregator struct {
	states   *state.Store
	debounce *Debouncer
	sink     Inserter
	log      *zap.Logger
}

// NewAggregator wires an aggregator over the engine-owned state and debounce table.
func NewAggregator(states *state.Store, debounce *Debouncer, sink Inserter, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{states: states, debounce: debounce, sink: sink, log: log.Named("aggregate")}
}

// Evaluate runs composite detection for one observation group at now.
func (a *Aggregator) Evaluate(ctx context.Context, observationID int64, now time.Time) Result {
	group := a.states.Group(observationID)
	if len(group) == 0 {
		return Result{Outcome: OutcomeNone}
	}
	al, signals, ok := Composite(group, now)
	if !ok {
		return Result{Outcome: OutcomeNone, Signals: signals}
	}
	res := Result{Alert: al, Signals: signals}

	key := Key{ObservationID: observationID, Kind: alert.KindPoaching}
	if !a.debounce.Allow(key, now) {
		last, _ := a.debounce.Last(key)
		metrics.CompositeSuppressed.Inc()
		a.log.Debug("composite alert suppressed",
			zap.Int64("observation_id", observationID),
			zap.Int("signals", len(signals)),
			zap.Time("last_emitted", last),
		)
		res.Outcome = OutcomeSuppressed
		return res
	}
	if !a.sink.Insert(ctx, al) {
		// Not recorded: the next evaluation retries.
		res.Outcome = OutcomeFailed
		return res
	}
	a.debounce.Record(key, now)
	a.log.Info("composite poaching alert triggered",
		zap.Int64("observation_id", observationID),
		zap.String("severity", string(al.Severity)),
		zap.String("description", al.Description),
	)
	res.Outcome = OutcomeEmitted
	return res
}
