package engine

import (
	"go.uber.org/zap"

	"github.com/wilhg/sentinel/pkg/errmodel"
)

// Phase is the lifecycle state of the monitor loop.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseRunning
	PhaseDegraded
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "STARTING"
	case PhaseRunning:
		return "RUNNING"
	case PhaseDegraded:
		return "DEGRADED"
	case PhaseStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Phase returns the current phase. Safe for concurrent use.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

// Health returns nil while RUNNING, otherwise an error suitable for errmodel.WriteHTTP.
// Safe for concurrent use.
func (e *Engine) Health() error {
	switch p := e.Phase(); p {
	case PhaseRunning:
		return nil
	case PhaseDegraded:
		return errmodel.Connectivity("degraded", "monitor is degraded", map[string]any{"phase": p.String()}, nil)
	case PhaseStarting:
		return errmodel.System("starting", "monitor is starting", map[string]any{"phase": p.String()}, nil)
	default:
		return errmodel.System("stopped", "monitor is stopped", map[string]any{"phase": p.String()}, nil)
	}
}

func (e *Engine) setPhase(p Phase) {
	if old := Phase(e.phase.Swap(int32(p))); old != p {
		e.log.Debug("phase changed", zap.Stringer("from", old), zap.Stringer("to", p))
	}
}
