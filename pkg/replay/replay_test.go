package replay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wilhg/sentinel/pkg/alert"
	"github.com/wilhg/sentinel/pkg/engine"
)

const capture = `{"readings": [
  {"sensor_id": 3, "observation_id": 9, "reading_type": "motion", "reading_value": 0, "reading_time": "2025-03-01T12:00:00Z"},
  {"sensor_id": 5, "observation_id": 9, "reading_type": "sound", "reading_value": 80, "reading_time": "2025-03-01T12:00:00Z"},
  {"sensor_id": 3, "observation_id": 9, "reading_type": "motion", "reading_value": 1, "reading_time": "2025-03-01T12:00:04Z"},
  {"sensor_id": 5, "observation_id": 9, "reading_type": "sound", "reading_value": 125, "reading_time": "2025-03-01T12:00:04Z"},
  {"sensor_id": 5, "observation_id": 9, "reading_type": "sound", "reading_value": 170, "reading_time": "2025-03-01T12:01:00Z"},
  {"sensor_id": 5, "observation_id": 9, "reading_type": "sound", "reading_value": 120, "reading_time": "2025-03-01T12:02:30Z"},
  {"sensor_id": 7, "observation_id": 9, "reading_type": "pressure", "reading_value": 3, "reading_time": "2025-03-01T12:02:30Z"}
]}`

func TestRun_Capture(t *testing.T) {
	c, err := Load(strings.NewReader(capture))
	if err != nil {
		t.Fatal(err)
	}
	cfg := engine.DefaultConfig()
	res, err := Run(context.Background(), c, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 6 || res.Rejected != 1 {
		t.Fatalf("fetched=%d rejected=%d want 6 and 1", res.Fetched, res.Rejected)
	}
	// 12:00:00 to 12:02:30 in 5s steps.
	if res.Cycles != 31 {
		t.Fatalf("cycles=%d want 31", res.Cycles)
	}

	var composite, abnormal []time.Time
	for _, a := range res.Alerts {
		switch alert.Kind(a.AlertType) {
		case alert.KindPoaching:
			composite = append(composite, a.CreatedAt)
		case alert.KindAbnormalSensor:
			abnormal = append(abnormal, a.CreatedAt)
		}
	}
	// Composite at 12:00:05, suppressed at 12:01:00, emitted again at 12:02:30.
	if len(composite) != 2 {
		t.Fatalf("composite alerts=%d want 2", len(composite))
	}
	if want := time.Date(2025, 3, 1, 12, 2, 30, 0, time.UTC); !composite[1].Equal(want) {
		t.Fatalf("second composite at %v want %v", composite[1], want)
	}
	// Three sound jumps of 45, 45 and 50.
	if len(abnormal) != 3 {
		t.Fatalf("abnormal alerts=%d want 3", len(abnormal))
	}
}

func TestRun_Empty(t *testing.T) {
	res, err := Run(context.Background(), Capture{}, engine.DefaultConfig(), nil)
	if err != nil || res.Cycles != 0 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestLoad_Malformed(t *testing.T) {
	if _, err := Load(strings.NewReader(`{"readings": [`)); err == nil {
		t.Fatal("expected error")
	}
}
