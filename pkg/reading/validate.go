package reading

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/cast"

	"github.com/wilhg/sentinel/pkg/errmodel"
)

//go:embed reading.schema.json
var schemaJSON []byte

const schemaURL = "mem://reading.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

var requiredFields = []string{FieldSensorID, FieldObservationID, FieldType, FieldValue, FieldTime}

// Valid reports whether raw passes validation.
func Valid(raw Raw) bool {
	_, err := Validate(raw)
	return err == nil
}

// Validate checks raw against the type and range rules and returns the typed
// reading. Failures are *errmodel.Error values in the validation category.
func Validate(raw Raw) (Reading, error) {
	for _, f := range requiredFields {
		if v, ok := raw[f]; !ok || v == nil {
			return Reading{}, invalid("missing_field", "required field is missing", f)
		}
	}

	value, err := cast.ToFloat64E(bytesToString(raw[FieldValue]))
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return Reading{}, invalid("not_numeric", "reading value is not numeric", FieldValue)
	}

	var ts time.Time
	switch t := raw[FieldTime].(type) {
	case time.Time:
		ts = t
	case string, []byte:
		parsed, err := cast.ToTimeE(bytesToString(t))
		if err != nil {
			return Reading{}, invalid("invalid_time", "reading time is not a timestamp", FieldTime)
		}
		ts = parsed
	default:
		return Reading{}, invalid("invalid_time", "reading time is not a timestamp", FieldTime)
	}
	if ts.IsZero() {
		return Reading{}, invalid("invalid_time", "reading time is zero", FieldTime)
	}

	doc := map[string]any{
		FieldSensorID:      raw[FieldSensorID],
		FieldObservationID: raw[FieldObservationID],
		FieldType:          bytesToString(raw[FieldType]),
		FieldValue:         value,
		FieldTime:          ts,
	}
	if err := checkSchema(doc); err != nil {
		return Reading{}, err
	}

	sensorID, ok := toID(raw[FieldSensorID])
	if !ok {
		return Reading{}, invalid("invalid_id", "sensor id is out of range", FieldSensorID)
	}
	observationID, ok := toID(raw[FieldObservationID])
	if !ok {
		return Reading{}, invalid("invalid_id", "observation id is out of range", FieldObservationID)
	}

	return Reading{
		SensorID:      sensorID,
		ObservationID: observationID,
		Type:          Type(cast.ToString(doc[FieldType])),
		Value:         value,
		Time:          ts,
	}, nil
}

func checkSchema(doc map[string]any) error {
	sch, err := compiledSchema()
	if err != nil {
		return errmodel.System("schema", "reading schema does not compile", nil, err)
	}
	// Round-trip through JSON so the validator sees plain JSON values.
	b, err := json.Marshal(doc)
	if err != nil {
		// Only the time can fail to encode, e.g. a year past 9999.
		return invalid("invalid_time", "reading time is not serialisable", FieldTime)
	}
	var v any
	_ = json.Unmarshal(b, &v)
	err = sch.Validate(v)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return errmodel.Validation("invalid", err.Error(), nil)
	}
	field := failingField(ve)
	return invalid(codeFor(field), fmt.Sprintf("reading rejected by schema at %q", field), field)
}

// failingField returns the top-level property of the first leaf failure.
func failingField(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if len(ve.InstanceLocation) == 0 {
		return ""
	}
	return ve.InstanceLocation[0]
}

func codeFor(field string) string {
	switch field {
	case FieldSensorID, FieldObservationID:
		return "invalid_id"
	case FieldType:
		return "unknown_type"
	case FieldValue:
		return "out_of_range"
	case FieldTime:
		return "invalid_time"
	default:
		return "missing_field"
	}
}

// toID converts a schema-accepted integral id to int64. JSON numbers arrive as
// float64 and unsigned driver values may exceed the int64 range.
func toID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 1 || n >= 1<<63 {
			return 0, false
		}
		return int64(n), true
	case float32:
		if n < 1 || n >= 1<<63 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), n > 0
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), n > 0
	}
	id, err := cast.ToInt64E(v)
	return id, err == nil && id > 0
}

func invalid(code, msg, field string) *errmodel.Error {
	return errmodel.Validation(code, msg, map[string]any{"field": field})
}

func bytesToString(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
