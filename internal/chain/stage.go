package chain

import (
	"math"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// param is a knob value shared between the control side (writer) and the
// rendering side (reader). ver changes after every store.
type param struct {
	bits atomic.Uint64
	ver  atomic.Uint64
}

func (p *param) load() float64 {
	return math.Float64frombits(p.bits.Load())
}

func (p *param) store(v float64) {
	p.bits.Store(math.Float64bits(v))
	p.ver.Add(1)
}

// gainStage applies the linear gain knob through beep's Gain effect.
type gainStage struct {
	fx effects.Gain
	p  *param
}

func newGainStage(in beep.Streamer, p *param) *gainStage {
	return &gainStage{fx: effects.Gain{Streamer: in, Gain: p.load() - 1}, p: p}
}

func (s *gainStage) Stream(samples [][2]float64) (int, bool) {
	// effects.Gain scales by 1+Gain.
	s.fx.Gain = s.p.load() - 1
	return s.fx.Stream(samples)
}

func (s *gainStage) Err() error {
	return s.fx.Err()
}

// filterStage runs one biquad section. Coefficients are redesigned at the
// start of a quantum when the knob moved since the previous one.
type filterStage struct {
	key        Key
	in         beep.Streamer
	p          *param
	ver        uint64
	sampleRate float64
	bq         biquad
}

func newFilterStage(k Key, in beep.Streamer, p *param, sampleRate float64) *filterStage {
	s := &filterStage{key: k, in: in, p: p, sampleRate: sampleRate}
	s.ver = p.ver.Load()
	s.bq.c = design(k, p.load(), sampleRate)
	return s
}

func (s *filterStage) Stream(samples [][2]float64) (int, bool) {
	if v := s.p.ver.Load(); v != s.ver {
		s.ver = v
		s.bq.c = design(s.key, s.p.load(), s.sampleRate)
	}
	n, ok := s.in.Stream(samples)
	s.bq.process(samples[:n])
	return n, ok
}

func (s *filterStage) Err() error {
	return s.in.Err()
}
