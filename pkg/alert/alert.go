// Package alert defines the alerts the monitor raises and the sink that
// persists them.
package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wilhg/sentinel/pkg/metrics"
	"github.com/wilhg/sentinel/pkg/store"
)

// Kind is the alert_type column.
type Kind string

const (
	KindAbnormalSensor Kind = "abnormal_sensor"
	KindPoaching       Kind = "poaching_alert"
)

// Severity tiers.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is one alert ready to be persisted.
type Alert struct {
	SensorID      int64
	ObservationID int64
	Kind          Kind
	Description   string
	Severity      Severity
	Score         float64
	CreatedAt     time.Time
}

// Record converts the alert to its persisted form.
func (a Alert) Record() store.AlertRecord {
	return store.AlertRecord{
		SensorID:      a.SensorID,
		ObservationID: a.ObservationID,
		AlertType:     string(a.Kind),
		Description:   a.Description,
		Severity:      string(a.Severity),
		Score:         a.Score,
		CreatedAt:     a.CreatedAt,
	}
}

// Sink appends alerts through a store.AlertWriter. It is the only writer of
// the alerts relation.
type Sink struct {
	w   store.AlertWriter
	log *zap.Logger
}

// NewSink constructs a Sink. A nil logger disables logging.
func NewSink(w store.AlertWriter, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{w: w, log: log.Named("sink")}
}

// Insert appends a and reports whether the write was confirmed.
func (s *Sink) Insert(ctx context.Context, a Alert) bool {
	rec, err := s.w.AppendAlert(ctx, a.Record())
	if err != nil {
		metrics.AlertsFailed.WithLabelValues(string(a.Kind)).Inc()
		s.log.Error("alert insert failed",
			zap.String("type", string(a.Kind)),
			zap.Int64("sensor_id", a.SensorID),
			zap.Int64("observation_id", a.ObservationID),
			zap.Error(err),
		)
		return false
	}
	metrics.AlertsEmitted.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
	s.log.Info("alert inserted",
		zap.Int64("id", rec.ID),
		zap.String("type", string(a.Kind)),
		zap.Int64("sensor_id", a.SensorID),
		zap.Int64("observation_id", a.ObservationID),
		zap.String("severity", string(a.Severity)),
		zap.Float64("score", a.Score),
	)
	return true
}
