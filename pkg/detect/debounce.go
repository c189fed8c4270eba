package detect

import (
	"time"

	"github.com/wilhg/sentinel/pkg/alert"
)

// Key identifies a debounced alert stream.
type Key struct {
	ObservationID int64
	Kind          alert.Kind
}

// Debouncer remembers the last emission time per key. Not safe for concurrent use.
type Debouncer struct {
	window time.Duration
	last   map[Key]time.Time
}

// NewDebouncer returns a table that suppresses repeats within window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window, last: make(map[Key]time.Time)}
}

// Allow reports whether an emission for k at now is outside the window.
func (d *Debouncer) Allow(k Key, now time.Time) bool {
	last, ok := d.last[k]
	return !ok || now.Sub(last) > d.window
}

// Record marks a confirmed emission.
func (d *Debouncer) Record(k Key, now time.Time) { d.last[k] = now }

// Last returns the last recorded emission for k.
func (d *Debouncer) Last(k Key) (time.Time, bool) {
	t, ok := d.last[k]
	return t, ok
}

// Len returns the number of tracked keys.
func (d *Debouncer) Len() int { return len(d.last) }

// Reap drops entries recorded before cutoff.
func (d *Debouncer) Reap(cutoff time.Time) int {
	removed := 0
	for k, t := range d.last {
		if t.Before(cutoff) {
			delete(d.last, k)
			removed++
		}
	}
	return removed
}
