// Package detect classifies sensor states and aggregates suspicious signals of
// an observation group into composite poaching alerts.
package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/wilhg/sentinel/pkg/alert"
	"github.com/wilhg/sentinel/pkg/reading"
	"github.com/wilhg/sentinel/pkg/state"
)

// Class separates sensor-health signals from composite-detection signals.
type Class int

const (
	// ClassAbnormal is a sensor-health fluctuation; it alerts on its own.
	ClassAbnormal Class = iota
	// ClassSuspicious only contributes to composite detection.
	ClassSuspicious
)

// Signal names.
const (
	SignalAbnormal        = "abnormal_fluctuation"
	SignalMotion          = "motion"
	SignalSoundSpike      = "sound_spike"
	SignalTempRise        = "temp_rise"
	SignalHumidityDrop    = "humidity_drop"
	SignalSoilDisturbance = "soil_disturbance"
)

// Thresholds.
const (
	abnormalRelative = 0.05
	abnormalAbsolute = 8.0

	soundDelta       = 20.0
	temperatureDelta = 3.0
	humidityDelta    = 10.0
	soilDelta        = 12.0
)

// Signal is one firing classification of a sensor state.
type Signal struct {
	Class    Class
	Name     string
	SensorID int64
	// Fragment is the human-readable piece used to build alert descriptions.
	Fragment string
}

// Classify returns every signal the state fires: the abnormal signal first, then
// the suspicious one. It is a pure function of st.
func Classify(st state.SensorState) []Signal {
	var out []Signal
	if sig, ok := Abnormal(st); ok {
		out = append(out, sig)
	}
	if sig, ok := Suspicious(st); ok {
		out = append(out, sig)
	}
	return out
}

// Abnormal fires when the delta exceeds both 5% of the current magnitude and 8 units.
func Abnormal(st state.SensorState) (Signal, bool) {
	threshold := math.Max(abnormalRelative*math.Abs(st.Value), abnormalAbsolute)
	if st.Delta <= threshold {
		return Signal{}, false
	}
	return Signal{
		Class:    ClassAbnormal,
		Name:     SignalAbnormal,
		SensorID: st.SensorID,
		Fragment: fmt.Sprintf("Abnormal %s fluctuation detected (Δ=%.2f)", st.Type, st.Delta),
	}, true
}

// Suspicious applies the type-specific composite thresholds.
func Suspicious(st state.SensorState) (Signal, bool) {
	sig := Signal{Class: ClassSuspicious, SensorID: st.SensorID}
	switch st.Type {
	case reading.Motion:
		if st.Value != 1 {
			return Signal{}, false
		}
		sig.Name, sig.Fragment = SignalMotion, "Motion detected"
	case reading.Sound:
		if st.Delta <= soundDelta {
			return Signal{}, false
		}
		sig.Name, sig.Fragment = SignalSoundSpike, fmt.Sprintf("Sound spike (Δ%.1fdB)", st.Delta)
	case reading.Temperature:
		if st.Delta <= temperatureDelta {
			return Signal{}, false
		}
		sig.Name, sig.Fragment = SignalTempRise, fmt.Sprintf("Temperature rise (Δ%.1f°C)", st.Delta)
	case reading.Humidity:
		if st.Delta <= humidityDelta {
			return Signal{}, false
		}
		sig.Name, sig.Fragment = SignalHumidityDrop, fmt.Sprintf("Humidity fluctuation (Δ%.1f%%)", st.Delta)
	case reading.SoilMoisture:
		if st.Delta <= soilDelta {
			return Signal{}, false
		}
		sig.Name, sig.Fragment = SignalSoilDisturbance, fmt.Sprintf("Soil change (Δ%.1f%%)", st.Delta)
	default:
		return Signal{}, false
	}
	return sig, true
}

// AbnormalAlert builds the per-sensor alert for an abnormal signal.
func AbnormalAlert(st state.SensorState, sig Signal, now time.Time) alert.Alert {
	return alert.Alert{
		SensorID:      st.SensorID,
		ObservationID: st.ObservationID,
		Kind:          alert.KindAbnormalSensor,
		Description:   sig.Fragment,
		Severity:      alert.SeverityMedium,
		Score:         math.Min(0.5+st.Delta/100, 1.0),
		CreatedAt:     now,
	}
}
