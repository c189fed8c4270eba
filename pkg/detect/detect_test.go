package detect

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/wilhg/sentinel/pkg/alert"
	"github.com/wilhg/sentinel/pkg/reading"
	"github.com/wilhg/sentinel/pkg/state"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

type fakeSink struct {
	fail bool
	got  []alert.Alert
}

func (f *fakeSink) Insert(ctx context.Context, a alert.Alert) bool {
	if f.fail {
		return false
	}
	f.got = append(f.got, a)
	return true
}

// feed applies readings for one sensor in order.
func feed(s *state.Store, sensor, obs int64, typ reading.Type, values ...float64) state.SensorState {
	var st state.SensorState
	for _, v := range values {
		st = s.Update(reading.Reading{SensorID: sensor, ObservationID: obs, Type: typ, Value: v, Time: t0}, t0)
	}
	return st
}

func TestAbnormal_TemperatureJump(t *testing.T) {
	s := state.New()
	st := feed(s, 1, 9, reading.Temperature, 25.0, 40.5)
	sig, ok := Abnormal(st)
	if !ok {
		t.Fatal("delta 15.5 should be abnormal")
	}
	a := AbnormalAlert(st, sig, t0)
	if a.Kind != alert.KindAbnormalSensor || a.Severity != alert.SeverityMedium {
		t.Fatalf("unexpected alert: %+v", a)
	}
	if !approx(a.Score, 0.655) {
		t.Fatalf("score=%v want 0.655", a.Score)
	}
	if a.Description != "Abnormal temperature fluctuation detected (Δ=15.50)" {
		t.Fatalf("description=%q", a.Description)
	}
}

func TestAbnormal_RelativeOrAbsoluteThreshold(t *testing.T) {
	cases := []struct {
		value, delta float64
		want         bool
	}{
		{10, 8, false},   // equal to absolute floor
		{10, 8.01, true}, // just above the floor
		{190, 9, false},  // 5% of 190 is 9.5
		{190, 9.6, true},
		{-50, 8.5, true}, // magnitude, not sign
		{200, 10, false},
		{0, 100, true},
	}
	for _, c := range cases {
		st := state.SensorState{Type: reading.Sound, Value: c.value, Delta: c.delta}
		if _, got := Abnormal(st); got != c.want {
			t.Fatalf("value=%v delta=%v: got=%v want %v", c.value, c.delta, got, c.want)
		}
	}
	a := AbnormalAlert(state.SensorState{Delta: 100}, Signal{}, t0)
	if a.Score != 1.0 {
		t.Fatalf("score=%v want capped 1.0", a.Score)
	}
}

func TestSuspicious_Thresholds(t *testing.T) {
	cases := []struct {
		typ   reading.Type
		value float64
		delta float64
		name  string
	}{
		{reading.Motion, 1, 0, SignalMotion},
		{reading.Motion, 0, 1, ""},
		{reading.Sound, 80, 20, ""},
		{reading.Sound, 80, 20.5, SignalSoundSpike},
		{reading.Temperature, 20, 3, ""},
		{reading.Temperature, 20, 3.1, SignalTempRise},
		{reading.Humidity, 50, 10, ""},
		{reading.Humidity, 50, 10.5, SignalHumidityDrop},
		{reading.SoilMoisture, 40, 12, ""},
		{reading.SoilMoisture, 40, 15, SignalSoilDisturbance},
	}
	for _, c := range cases {
		sig, ok := Suspicious(state.SensorState{Type: c.typ, Value: c.value, Delta: c.delta})
		if ok != (c.name != "") || sig.Name != c.name {
			t.Fatalf("%s value=%v delta=%v: got=(%q,%v) want %q", c.typ, c.value, c.delta, sig.Name, ok, c.name)
		}
	}
}

func TestClassify_Idempotent(t *testing.T) {
	st := state.SensorState{SensorID: 5, ObservationID: 9, Type: reading.Sound, Value: 125, Delta: 45}
	first := Classify(st)
	second := Classify(st)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("classification not stable: %+v vs %+v", first, second)
	}
	if len(first) != 2 || first[0].Class != ClassAbnormal || first[1].Class != ClassSuspicious {
		t.Fatalf("unexpected signals: %+v", first)
	}
}

func motionAndSound(s *state.Store) {
	feed(s, 3, 9, reading.Motion, 0, 1)
	feed(s, 5, 9, reading.Sound, 80, 125)
}

func TestComposite_MotionAndSound(t *testing.T) {
	s := state.New()
	motionAndSound(s)
	a, signals, ok := Composite(s.Group(9), t0)
	if !ok {
		t.Fatal("two signals should raise a composite alert")
	}
	if len(signals) != 2 {
		t.Fatalf("signals=%d want 2", len(signals))
	}
	if a.Severity != alert.SeverityMedium || !approx(a.Score, 0.7) {
		t.Fatalf("severity=%s score=%v", a.Severity, a.Score)
	}
	if a.Description != "Motion detected, Sound spike (Δ45.0dB)" {
		t.Fatalf("description=%q", a.Description)
	}
	if a.SensorID != 3 || a.ObservationID != 9 || a.Kind != alert.KindPoaching {
		t.Fatalf("unexpected alert: %+v", a)
	}
}

func TestComposite_FourSignalsIsCritical(t *testing.T) {
	s := state.New()
	motionAndSound(s)
	feed(s, 7, 9, reading.Temperature, 20, 24.5)
	feed(s, 8, 9, reading.SoilMoisture, 30, 45)
	a, _, ok := Composite(s.Group(9), t0)
	if !ok {
		t.Fatal("expected composite alert")
	}
	if a.Severity != alert.SeverityCritical || !approx(a.Score, 0.9) {
		t.Fatalf("severity=%s score=%v", a.Severity, a.Score)
	}
	want := "Motion detected, Sound spike (Δ45.0dB), Temperature rise (Δ4.5°C), Soil change (Δ15.0%)"
	if a.Description != want {
		t.Fatalf("description=%q want %q", a.Description, want)
	}
}

func TestComposite_ThreeSignalsIsHigh(t *testing.T) {
	s := state.New()
	motionAndSound(s)
	feed(s, 2, 9, reading.Humidity, 60, 45)
	a, _, ok := Composite(s.Group(9), t0)
	if !ok || a.Severity != alert.SeverityHigh || !approx(a.Score, 0.8) {
		t.Fatalf("unexpected: ok=%v %+v", ok, a)
	}
	// Sensor 2 is the lowest id, so it represents the group.
	if a.SensorID != 2 {
		t.Fatalf("representative=%d want 2", a.SensorID)
	}
	if a.Description != "Humidity fluctuation (Δ15.0%), Motion detected, Sound spike (Δ45.0dB)" {
		t.Fatalf("description=%q", a.Description)
	}
}

func TestComposite_SingleSignalNoAlert(t *testing.T) {
	s := state.New()
	feed(s, 3, 9, reading.Motion, 1)
	feed(s, 5, 9, reading.Sound, 80, 85)
	if _, _, ok := Composite(s.Group(9), t0); ok {
		t.Fatal("one signal must not alert")
	}
}

func TestAggregator_DebounceWindow(t *testing.T) {
	s := state.New()
	motionAndSound(s)
	sink := &fakeSink{}
	agg := NewAggregator(s, NewDebouncer(2*time.Minute), sink, nil)

	if r := agg.Evaluate(context.Background(), 9, t0); r.Outcome != OutcomeEmitted {
		t.Fatalf("T: outcome=%s want emitted", r.Outcome)
	}
	if r := agg.Evaluate(context.Background(), 9, t0.Add(60*time.Second)); r.Outcome != OutcomeSuppressed {
		t.Fatalf("T+60s: outcome=%s want suppressed", r.Outcome)
	}
	if r := agg.Evaluate(context.Background(), 9, t0.Add(150*time.Second)); r.Outcome != OutcomeEmitted {
		t.Fatalf("T+150s: outcome=%s want emitted", r.Outcome)
	}
	if len(sink.got) != 2 {
		t.Fatalf("persisted=%d want 2", len(sink.got))
	}
}

func TestAggregator_DebounceIsPerObservation(t *testing.T) {
	s := state.New()
	motionAndSound(s)
	feed(s, 13, 10, reading.Motion, 1)
	feed(s, 15, 10, reading.Sound, 10, 90)
	sink := &fakeSink{}
	agg := NewAggregator(s, NewDebouncer(2*time.Minute), sink, nil)

	agg.Evaluate(context.Background(), 9, t0)
	if r := agg.Evaluate(context.Background(), 10, t0.Add(time.Second)); r.Outcome != OutcomeEmitted {
		t.Fatalf("observation 10 outcome=%s want emitted", r.Outcome)
	}
}

func TestAggregator_FailedInsertIsNotDebounced(t *testing.T) {
	s := state.New()
	motionAndSound(s)
	sink := &fakeSink{fail: true}
	deb := NewDebouncer(2 * time.Minute)
	agg := NewAggregator(s, deb, sink, nil)

	if r := agg.Evaluate(context.Background(), 9, t0); r.Outcome != OutcomeFailed {
		t.Fatalf("outcome=%s want failed", r.Outcome)
	}
	if deb.Len() != 0 {
		t.Fatal("failed insert must not record a debounce timestamp")
	}
	sink.fail = false
	if r := agg.Evaluate(context.Background(), 9, t0.Add(5*time.Second)); r.Outcome != OutcomeEmitted {
		t.Fatalf("retry outcome=%s want emitted", r.Outcome)
	}
}

func TestAggregator_UnknownGroup(t *testing.T) {
	agg := NewAggregator(state.New(), NewDebouncer(time.Minute), &fakeSink{}, nil)
	if r := agg.Evaluate(context.Background(), 42, t0); r.Outcome != OutcomeNone {
		t.Fatalf("outcome=%s want none", r.Outcome)
	}
}

func TestDebouncer_Reap(t *testing.T) {
	d := NewDebouncer(2 * time.Minute)
	d.Record(Key{ObservationID: 1, Kind: alert.KindPoaching}, t0)
	d.Record(Key{ObservationID: 2, Kind: alert.KindPoaching}, t0.Add(time.Hour))
	if n := d.Reap(t0.Add(time.Minute)); n != 1 {
		t.Fatalf("reaped=%d want 1", n)
	}
	if _, ok := d.Last(Key{ObservationID: 2, Kind: alert.KindPoaching}); !ok {
		t.Fatal("recent entry should survive")
	}
}
