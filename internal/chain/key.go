package chain

import (
	"fmt"
	"math"
	"strings"
)

// Key names one tunable stage of the chain. The set is closed.
type Key int

const (
	Gain Key = iota
	Low
	Mid
	High
	Filter

	numKeys
)

type stageKind uint8

const (
	kindGain stageKind = iota
	kindLowShelf
	kindPeaking
	kindHighShelf
	kindLowpass
)

type stageSpec struct {
	name     string
	kind     stageKind
	freq     float64 // fixed corner/center frequency; 0 when the value is the frequency
	min, max float64
	def      float64
}

// Stages appear in this order between source and output.
var stageSpecs = [numKeys]stageSpec{
	Gain:   {name: "gain", kind: kindGain, min: 0, max: 2, def: 1},
	Low:    {name: "low", kind: kindLowShelf, freq: 320, min: 0, max: 2, def: 1},
	Mid:    {name: "mid", kind: kindPeaking, freq: 1000, min: 0, max: 2, def: 1},
	High:   {name: "high", kind: kindHighShelf, freq: 3200, min: 0, max: 2, def: 1},
	Filter: {name: "filter", kind: kindLowpass, min: 500, max: 10000, def: 10000},
}

// Keys returns every stage key in chain order.
func Keys() []Key {
	return []Key{Gain, Low, Mid, High, Filter}
}

// ParseKey maps a control name ("gain", "low", "mid", "high", "filter") to its Key.
func ParseKey(name string) (Key, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, s := range stageSpecs {
		if s.name == name {
			return Key(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
}

// Valid reports whether k is one of the declared stage keys.
func (k Key) Valid() bool {
	return k >= 0 && k < numKeys
}

func (k Key) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Key(%d)", int(k))
	}
	return stageSpecs[k].name
}

// MarshalText encodes the key by its control name.
func (k Key) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParameter, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a control name.
func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Range returns the knob travel of the stage.
func (k Key) Range() (min, max float64) {
	s := stageSpecs[k]
	return s.min, s.max
}

// Default returns the neutral value of the stage.
func (k Key) Default() float64 {
	return stageSpecs[k].def
}

// Frequency returns the fixed corner or center frequency in Hz, or 0 for
// stages without one.
func (k Key) Frequency() float64 {
	return stageSpecs[k].freq
}

// Clamp limits v to the stage's travel. NaN maps to the default.
func (k Key) Clamp(v float64) float64 {
	s := stageSpecs[k]
	switch {
	case math.IsNaN(v):
		return s.def
	case v < s.min:
		return s.min
	case v > s.max:
		return s.max
	}
	return v
}
