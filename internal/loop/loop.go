// Package loop captures a loop region in two steps and asks a player to
// repeat it.
package loop

import (
	"fmt"
	"sync"

	"github.com/satindergrewal/deckd/internal/audio"
)

// State is the capture progress of the region.
type State int

const (
	None State = iota
	PendingEnd
	Active
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case PendingEnd:
		return "pending_end"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Point is a timestamp in seconds that may be unset.
type Point struct {
	Seconds float64 `json:"seconds"`
	Valid   bool    `json:"valid"`
}

// Region is a loop's [Start, End] pair. No ordering is enforced between the
// bounds at capture time.
type Region struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// State derives the capture progress from which bounds are set.
func (r Region) State() State {
	switch {
	case r.Start.Valid && r.End.Valid:
		return Active
	case r.Start.Valid:
		return PendingEnd
	default:
		return None
	}
}

// RangePlayer plays [start, end] repeatedly.
type RangePlayer interface {
	PlayRange(start, end float64) error
}

// Controller holds one loop region.
type Controller struct {
	mu     sync.Mutex
	region Region
}

// NewController returns a controller with no bounds set.
func NewController() *Controller {
	return &Controller{}
}

// Capture records position as the start when none is set, otherwise as the
// end. Once active, further captures overwrite the end only.
func (c *Controller) Capture(position float64) Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.region.Start.Valid {
		c.region.Start = Point{Seconds: position, Valid: true}
	} else {
		c.region.End = Point{Seconds: position, Valid: true}
	}
	return c.region
}

// Region returns the current bounds.
func (c *Controller) Region() Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region
}

// IsActive reports whether both bounds are set.
func (c *Controller) IsActive() bool {
	return c.Region().State() == Active
}

// Reset clears both bounds.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.region = Region{}
	c.mu.Unlock()
}

// Play asks p to loop the region. An incomplete or inverted region is
// rejected without calling p.
func (c *Controller) Play(p RangePlayer) error {
	r := c.Region()
	if r.State() != Active {
		return audio.ErrLoopNotSet
	}
	if r.End.Seconds <= r.Start.Seconds {
		return fmt.Errorf("%w: end %.3fs is not after start %.3fs", audio.ErrInvalidLoopRange, r.End.Seconds, r.Start.Seconds)
	}
	return p.PlayRange(r.Start.Seconds, r.End.Seconds)
}
