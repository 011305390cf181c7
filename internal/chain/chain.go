// Package chain owns a deck's DSP stages: gain, a three-band EQ and a lowpass
// filter, spliced between a loaded source and the deck output.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gopxl/beep/v2"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
)

var (
	// ErrAlreadyWired is returned by Wire when the chain was not torn down first.
	ErrAlreadyWired = errors.New("chain already wired")

	// ErrUnknownParameter is returned for names or keys outside the stage set.
	ErrUnknownParameter = errors.New("unknown parameter")
)

// Chain is the ordered stage graph Source → Gain → Low → Mid → High → Filter → Output.
//
// Knob values live in the chain rather than in the stages, so values set
// before Wire are picked up when the stages are built.
type Chain struct {
	params [numKeys]param
	log    *zap.Logger

	mu     sync.Mutex
	stages []beep.Streamer
	dst    *Port
	conn   *Conn
}

// New returns an unwired chain with every knob at its default.
func New(log *zap.Logger) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Chain{log: log}
	for _, k := range Keys() {
		c.params[k].store(k.Default())
	}
	return c
}

// SetParameter clamps v to the stage's travel and stores it. The rendering
// side applies it at its next quantum. Returns the stored value.
func (c *Chain) SetParameter(k Key, v float64) (float64, error) {
	if !k.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownParameter, int(k))
	}
	v = k.Clamp(v)
	c.params[k].store(v)
	return v, nil
}

// Parameter returns the live value of a stage knob.
func (c *Chain) Parameter(k Key) float64 {
	if !k.Valid() {
		return 0
	}
	return c.params[k].load()
}

// Parameters returns all knob values keyed by stage.
func (c *Chain) Parameters() map[Key]float64 {
	out := make(map[Key]float64, numKeys)
	for _, k := range Keys() {
		out[k] = c.params[k].load()
	}
	return out
}

// Wire builds the five stages on top of src and connects the last one to dst.
// Any direct src→dst connection is removed first.
func (c *Chain) Wire(src beep.Streamer, dst *Port) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stages != nil {
		return ErrAlreadyWired
	}

	dst.Disconnect()

	node := beep.Streamer(newGainStage(src, &c.params[Gain]))
	stages := []beep.Streamer{node}
	for _, k := range []Key{Low, Mid, High, Filter} {
		node = newFilterStage(k, node, &c.params[k], audio.SampleRate)
		stages = append(stages, node)
	}

	c.stages = stages
	c.dst = dst
	c.conn = dst.Connect(node)

	c.log.Debug("chain wired", zap.Int("stages", len(stages)))
	return nil
}

// wired reports whether the stages are currently built.
func (c *Chain) wired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stages != nil
}

// Teardown disconnects the chain from its destination and drops the stages.
// Safe to call on an unwired chain.
func (c *Chain) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stages == nil {
		return
	}
	c.dst.Release(c.conn)
	c.stages = nil
	c.dst = nil
	c.conn = nil
	c.log.Debug("chain torn down")
}
