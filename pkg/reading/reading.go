// Package reading defines sensor readings and the validator that admits raw
// store rows into the monitor.
package reading

import "time"

// Type is the closed set of sensor modalities.
type Type string

const (
	Temperature  Type = "temperature"
	Humidity     Type = "humidity"
	Motion       Type = "motion"
	SoilMoisture Type = "soil_moisture"
	Sound        Type = "sound"
)

// Types lists every accepted reading type.
var Types = []Type{Temperature, Humidity, Motion, SoilMoisture, Sound}

// Raw column names as delivered by the store.
const (
	FieldSensorID      = "sensor_id"
	FieldObservationID = "observation_id"
	FieldType          = "reading_type"
	FieldValue         = "reading_value"
	FieldTime          = "reading_time"
)

// Raw is an unvalidated reading row keyed by column name.
type Raw map[string]any

// Reading is a validated, immutable sensor reading.
type Reading struct {
	SensorID      int64
	ObservationID int64
	Type          Type
	Value         float64
	Time          time.Time
}
