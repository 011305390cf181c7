// Package cue records cue points for the currently loaded source.
package cue

import (
	"sync"

	"github.com/satindergrewal/deckd/internal/audio"
)

// Store is an append-only list of timestamps in seconds. Points keep their
// insertion order and are never deduplicated: index N is always the Nth
// capture since the last Reset.
type Store struct {
	mu     sync.RWMutex
	points []float64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Capture appends position and returns its 0-based index.
func (s *Store) Capture(position float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, position)
	return len(s.points) - 1
}

// Jump returns the timestamp stored at index.
func (s *Store) Jump(index int) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.points) {
		return 0, &audio.IndexOutOfRangeError{Index: index, Len: len(s.points)}
	}
	return s.points[index], nil
}

// size returns the number of captured points.
func (s *Store) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Points returns a copy of the captured points in insertion order.
func (s *Store) Points() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.points))
	copy(out, s.points)
	return out
}

// Reset drops all points.
func (s *Store) Reset() {
	s.mu.Lock()
	s.points = nil
	s.mu.Unlock()
}
