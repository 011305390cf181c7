package cue

import (
	"errors"
	"sync"
	"testing"

	"github.com/satindergrewal/deckd/internal/audio"
)

func TestCaptureReturnsIndex(t *testing.T) {
	s := NewStore()
	for i, pos := range []float64{10, 45, 3} {
		if got := s.Capture(pos); got != i {
			t.Errorf("Capture(%v) = %d, want %d", pos, got, i)
		}
	}
	if s.size() != 3 {
		t.Errorf("size = %d, want 3", s.size())
	}
}

func TestJumpAppendOnly(t *testing.T) {
	s := NewStore()
	captured := []float64{10, 45, 45, 2.5, 0, 179.9}
	for n, pos := range captured {
		s.Capture(pos)
		// Every earlier point is unaffected by the newer capture.
		for i := 0; i <= n; i++ {
			got, err := s.Jump(i)
			if err != nil {
				t.Fatalf("Jump(%d) after %d captures: %v", i, n+1, err)
			}
			if got != captured[i] {
				t.Errorf("Jump(%d) = %v, want %v", i, got, captured[i])
			}
		}
	}
}

func TestJumpOutOfRange(t *testing.T) {
	s := NewStore()
	s.Capture(10)
	s.Capture(45)

	for _, idx := range []int{-1, 2, 5} {
		_, err := s.Jump(idx)
		var oor *audio.IndexOutOfRangeError
		if !errors.As(err, &oor) {
			t.Errorf("Jump(%d) error = %v, want IndexOutOfRangeError", idx, err)
			continue
		}
		if oor.Index != idx || oor.Len != 2 {
			t.Errorf("Jump(%d) error = %+v, want Index=%d Len=2", idx, oor, idx)
		}
	}
}

func TestPointsIsCopy(t *testing.T) {
	s := NewStore()
	s.Capture(1)
	pts := s.Points()
	pts[0] = 99
	if got, _ := s.Jump(0); got != 1 {
		t.Errorf("Jump(0) = %v after mutating Points() copy, want 1", got)
	}
}

func TestReset(t *testing.T) {
	s := NewStore()
	s.Capture(1)
	s.Capture(2)
	s.Reset()
	if s.size() != 0 {
		t.Errorf("size after Reset = %d, want 0", s.size())
	}
	if got := s.Capture(7); got != 0 {
		t.Errorf("first Capture after Reset = %d, want 0", got)
	}
}

func TestConcurrentCaptureKeepsAllPoints(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			s.Capture(v)
		}(float64(i))
	}
	wg.Wait()
	if s.size() != 50 {
		t.Errorf("size = %d, want 50", s.size())
	}
}
