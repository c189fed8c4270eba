package entstore

import (
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table names of the relations the monitor reads and writes.
const (
	TableSensors  = "iot_sensors"
	TableReadings = "sensor_readings"
	TableAlerts   = "alerts"
)

var timeSchemaType = map[string]string{
	dialect.Postgres: "timestamptz",
	dialect.SQLite:   "datetime",
}

var (
	// SensorsColumns maps a sensor to its observation group.
	SensorsColumns = []*schema.Column{
		{Name: "sensor_id", Type: field.TypeInt64},
		{Name: "observation_id", Type: field.TypeInt64},
		{Name: "created_at", Type: field.TypeTime, SchemaType: timeSchemaType},
	}
	SensorsTable = &schema.Table{
		Name:       TableSensors,
		Columns:    SensorsColumns,
		PrimaryKey: []*schema.Column{SensorsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "iotsensor_observation_id", Columns: []*schema.Column{SensorsColumns[1]}},
		},
	}

	// ReadingsColumns are written by the ingestion forwarder.
	ReadingsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "sensor_id", Type: field.TypeInt64},
		{Name: "reading_type", Type: field.TypeString, Size: 32},
		{Name: "reading_value", Type: field.TypeFloat64},
		{Name: "reading_time", Type: field.TypeTime, SchemaType: timeSchemaType},
	}
	ReadingsTable = &schema.Table{
		Name:       TableReadings,
		Columns:    ReadingsColumns,
		PrimaryKey: []*schema.Column{ReadingsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "sensorreading_reading_time", Columns: []*schema.Column{ReadingsColumns[4]}},
			{Name: "sensorreading_sensor_id", Columns: []*schema.Column{ReadingsColumns[1]}},
		},
	}

	// AlertsColumns match the alert entity exactly, plus a surrogate key.
	AlertsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "sensor_id", Type: field.TypeInt64},
		{Name: "observation_id", Type: field.TypeInt64},
		{Name: "alert_type", Type: field.TypeString, Size: 32},
		{Name: "description", Type: field.TypeString, Size: 2147483647},
		{Name: "severity", Type: field.TypeString, Size: 16},
		{Name: "score", Type: field.TypeFloat64},
		{Name: "created_at", Type: field.TypeTime, SchemaType: timeSchemaType},
	}
	AlertsTable = &schema.Table{
		Name:       TableAlerts,
		Columns:    AlertsColumns,
		PrimaryKey: []*schema.Column{AlertsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "alert_observation_id_created_at", Columns: []*schema.Column{AlertsColumns[2], AlertsColumns[7]}},
		},
	}

	// Tables holds every table the migrator creates.
	Tables = []*schema.Table{
		SensorsTable,
		ReadingsTable,
		AlertsTable,
	}
)
