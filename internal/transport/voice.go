package transport

import (
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
)

// voice renders one loaded source. A new voice is created per load; once
// released it renders silence forever, so a stage graph still holding it
// can be torn down at leisure.
type voice struct {
	t        *Transport
	released bool // guarded by t.mu
}

// Stream never ends: a paused or released voice renders silence.
func (v *voice) Stream(samples [][2]float64) (int, bool) {
	t := v.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.released || t.voice != v {
		clear(samples)
		return len(samples), true
	}
	t.render(samples)
	return len(samples), true
}

func (v *voice) Err() error {
	return nil
}

// render fills one quantum. Callers hold t.mu.
func (t *Transport) render(samples [][2]float64) {
	if t.state == Paused && t.fade != fadeOut {
		clear(samples)
		return
	}

	n := t.fill(samples)
	clear(samples[n:])

	switch t.fade {
	case fadeIn:
		audio.Ramp(samples, 0, 1)
		t.fade = fadeNone
	case fadeOut:
		audio.Ramp(samples, 1, 0)
		t.fade = fadeNone
		if err := t.src.Seek(t.pausePos); err != nil {
			t.log.Warn("restore pause position", zap.Error(err))
		}
	case fadeJump:
		audio.Ramp(samples, 0, 1)
		t.fade = fadeNone
		t.mixTail(samples)
	}
}

// mixTail adds the material following jumpFrom, faded out, under samples.
// The source is left where fill stopped. Callers hold t.mu.
func (t *Transport) mixTail(samples [][2]float64) {
	resume := t.src.Position()
	if err := t.src.Seek(t.jumpFrom); err != nil {
		t.log.Warn("seek crossfade tail", zap.Error(err))
		return
	}
	if cap(t.tail) < len(samples) {
		t.tail = make([][2]float64, len(samples))
	}
	tail := t.tail[:len(samples)]
	n := 0
	for n < len(tail) {
		k, ok := t.src.Stream(tail[n:])
		n += k
		if k == 0 || !ok {
			break
		}
	}
	clear(tail[n:])
	audio.Ramp(tail, 1, 0)
	for i := range samples {
		samples[i][0] += tail[i][0]
		samples[i][1] += tail[i][1]
	}
	if err := t.src.Seek(resume); err != nil {
		t.log.Warn("resume after crossfade", zap.Error(err))
	}
}

// fill reads from the source, wrapping at the loop end, and returns the
// number of samples written. Reaching the end of the source outside a loop
// pauses the transport there.
func (t *Transport) fill(samples [][2]float64) int {
	filled := 0
	for filled < len(samples) {
		want := len(samples) - filled
		if t.looping {
			if rem := t.loopEnd - t.src.Position(); rem < want {
				want = max(rem, 0)
			}
		}

		n, ok := 0, true
		if want > 0 {
			n, ok = t.src.Stream(samples[filled : filled+want])
		}
		filled += n

		if t.looping && t.src.Position() >= t.loopEnd {
			if err := t.src.Seek(t.loopStart); err != nil {
				t.log.Warn("loop wrap", zap.Error(err))
				t.looping = false
			}
			continue
		}
		if n == 0 || !ok {
			if err := t.src.Err(); err != nil {
				t.log.Warn("source stream", zap.String("ref", t.ref), zap.Error(err))
			}
			t.state = Paused
			if t.fade == fadeIn {
				t.fade = fadeNone
			}
			break
		}
	}
	return filled
}
