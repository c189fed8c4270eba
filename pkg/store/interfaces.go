// Package store defines the persistence boundary of the monitor: a readable
// relation of sensor readings joined to their observation group and an
// append-only relation of alerts.
package store

import (
	"context"
	"time"
)

// ReadingRecord is one raw row from the readings relation, keyed by column name.
// Values are passed through from the driver untouched; validation happens later.
type ReadingRecord map[string]any

// AlertRecord is the persisted representation of an alert.
type AlertRecord struct {
	ID            int64
	SensorID      int64
	ObservationID int64
	AlertType     string
	Description   string
	Severity      string
	Score         float64
	CreatedAt     time.Time
}

// ReadingSource lists readings newer than a watermark.
type ReadingSource interface {
	// ListReadingsSince returns rows with reading_time strictly after since,
	// ascending by reading_time.
	ListReadingsSince(ctx context.Context, since time.Time) ([]ReadingRecord, error)
}

// AlertWriter appends alerts. Implementations never update or delete rows.
type AlertWriter interface {
	AppendAlert(ctx context.Context, a AlertRecord) (AlertRecord, error)
}

// Conn is the lifecycle surface of a store handle.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// Store aggregates everything the monitor needs from one handle.
type Store interface {
	ReadingSource
	AlertWriter
	Conn
}
