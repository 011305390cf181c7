// Package sink plays deck outputs on the local audio device.
package sink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
	"github.com/satindergrewal/deckd/internal/logger"
)

var (
	// ErrAttached is returned when a label is already playing.
	ErrAttached = errors.New("output already attached")

	// ErrNotAttached is returned for labels that are not playing.
	ErrNotAttached = errors.New("output not attached")
)

// Device sums every attached deck output into the default audio device.
// Decks never share state; the sum only happens at the device.
type Device struct {
	log    *zap.Logger
	mixer  *beep.Mixer
	lock   func()
	unlock func()
	close  func()

	mu   sync.Mutex
	taps map[string]*tap
}

// tap ends its stream once detached so the mixer drops it.
type tap struct {
	s        beep.Streamer
	detached atomic.Bool
}

func (t *tap) Stream(samples [][2]float64) (int, bool) {
	if t.detached.Load() {
		return 0, false
	}
	return t.s.Stream(samples)
}

func (t *tap) Err() error {
	return t.s.Err()
}

// Open initializes the speaker at the engine sample rate with the given
// device buffer.
func Open(buffer time.Duration, log *zap.Logger) (*Device, error) {
	sr := beep.SampleRate(audio.SampleRate)
	if err := speaker.Init(sr, sr.N(buffer)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	d := newDevice(log, speaker.Lock, speaker.Unlock, speaker.Close)
	speaker.Play(d.mixer)
	d.log.Info("audio device opened", zap.Duration("buffer", buffer))
	return d, nil
}

func newDevice(log *zap.Logger, lock, unlock, closeFn func()) *Device {
	if log == nil {
		log = zap.NewNop()
	}
	return &Device{
		log:    log,
		mixer:  &beep.Mixer{},
		lock:   lock,
		unlock: unlock,
		close:  closeFn,
		taps:   make(map[string]*tap),
	}
}

// Attach starts playing s under label.
func (d *Device) Attach(label string, s beep.Streamer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.taps[label]; ok {
		return fmt.Errorf("%w: %s", ErrAttached, label)
	}
	t := &tap{s: s}
	d.taps[label] = t

	d.lock()
	d.mixer.Add(t)
	d.unlock()

	d.log.Info("device attached", logger.Deck(label))
	return nil
}

// Detach stops playing label.
func (d *Device) Detach(label string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.taps[label]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, label)
	}
	t.detached.Store(true)
	delete(d.taps, label)
	d.log.Info("device detached", logger.Deck(label))
	return nil
}

// Attached returns the number of attached outputs.
func (d *Device) Attached() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.taps)
}

// Close detaches everything and releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	for label, t := range d.taps {
		t.detached.Store(true)
		delete(d.taps, label)
	}
	d.mu.Unlock()

	d.lock()
	d.mixer.Clear()
	d.unlock()
	if d.close != nil {
		d.close()
	}
	return nil
}
