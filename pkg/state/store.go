// Package state holds the bounded in-memory model of the latest reading per
// sensor. It is owned by a single goroutine and does no locking.
package state

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/wilhg/sentinel/pkg/reading"
)

// SensorState is the latest known reading of one sensor.
type SensorState struct {
	SensorID      int64
	ObservationID int64
	Type          reading.Type
	Value         float64
	// Delta is |Value - previous Value|, 0 for the first reading of a sensor.
	Delta       float64
	ReadingTime time.Time
	// LastSeen is the engine clock when the state was last replaced.
	LastSeen time.Time
}

// Store maps sensor id to its single current state.
type Store struct {
	sensors map[int64]*SensorState
	groups  map[int64]map[int64]struct{} // observation id -> sensor ids
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sensors: make(map[int64]*SensorState),
		groups:  make(map[int64]map[int64]struct{}),
	}
}

// Update overwrites the state of r's sensor and returns the new state.
func (s *Store) Update(r reading.Reading, now time.Time) SensorState {
	next := &SensorState{
		SensorID:      r.SensorID,
		ObservationID: r.ObservationID,
		Type:          r.Type,
		Value:         r.Value,
		ReadingTime:   r.Time,
		LastSeen:      now,
	}
	if prev, ok := s.sensors[r.SensorID]; ok {
		next.Delta = math.Abs(r.Value - prev.Value)
		if prev.ObservationID != r.ObservationID {
			s.unindex(prev.ObservationID, prev.SensorID)
		}
	}
	s.sensors[r.SensorID] = next
	g, ok := s.groups[r.ObservationID]
	if !ok {
		g = make(map[int64]struct{})
		s.groups[r.ObservationID] = g
	}
	g[r.SensorID] = struct{}{}
	return *next
}

// Get returns the state of a sensor.
func (s *Store) Get(sensorID int64) (SensorState, bool) {
	st, ok := s.sensors[sensorID]
	if !ok {
		return SensorState{}, false
	}
	return *st, true
}

// Group returns the states of every sensor in an observation group, ascending
// by sensor id.
func (s *Store) Group(observationID int64) []SensorState {
	ids := s.groups[observationID]
	out := make([]SensorState, 0, len(ids))
	for id := range ids {
		out = append(out, *s.sensors[id])
	}
	slices.SortFunc(out, func(a, b SensorState) int { return cmp.Compare(a.SensorID, b.SensorID) })
	return out
}

// Observations returns every observation id with at least one sensor, ascending.
func (s *Store) Observations() []int64 {
	out := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of tracked sensors.
func (s *Store) Len() int { return len(s.sensors) }

// Reap removes every state last seen before cutoff and returns how many were removed.
func (s *Store) Reap(cutoff time.Time) int {
	removed := 0
	for id, st := range s.sensors {
		if st.LastSeen.Before(cutoff) {
			delete(s.sensors, id)
			s.unindex(st.ObservationID, id)
			removed++
		}
	}
	return removed
}

func (s *Store) unindex(observationID, sensorID int64) {
	g := s.groups[observationID]
	delete(g, sensorID)
	if len(g) == 0 {
		delete(s.groups, observationID)
	}
}
