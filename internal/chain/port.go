package chain

import (
	"sync/atomic"

	"github.com/gopxl/beep/v2"
)

// Conn is the handle of one connection into a Port.
type Conn struct {
	s beep.Streamer
}

// Port is a patch point whose upstream can be swapped while the rendering
// side is pulling from it. Swaps are single atomic stores; the rendering side
// sees either the old or the new upstream for a whole quantum.
//
// A Port never ends: with nothing connected it renders silence.
type Port struct {
	in atomic.Pointer[Conn]
}

// NewPort returns a disconnected port.
func NewPort() *Port {
	return &Port{}
}

// Connect makes s the port's upstream, replacing any previous connection.
func (p *Port) Connect(s beep.Streamer) *Conn {
	c := &Conn{s: s}
	p.in.Store(c)
	return c
}

// Disconnect drops whatever is connected.
func (p *Port) Disconnect() {
	p.in.Store(nil)
}

// Release disconnects c only if it is still the current connection.
func (p *Port) Release(c *Conn) bool {
	if c == nil {
		return false
	}
	return p.in.CompareAndSwap(c, nil)
}

// connected reports whether c is the current connection.
func (p *Port) connected(c *Conn) bool {
	return c != nil && p.in.Load() == c
}

// idle reports whether nothing is connected.
func (p *Port) idle() bool {
	return p.in.Load() == nil
}

// Stream renders one quantum from the current upstream, padding with silence.
func (p *Port) Stream(samples [][2]float64) (int, bool) {
	c := p.in.Load()
	n := 0
	if c != nil {
		n, _ = c.s.Stream(samples)
	}
	clear(samples[n:])
	return len(samples), true
}

// Err always returns nil; upstream errors surface through the transport.
func (p *Port) Err() error {
	return nil
}
