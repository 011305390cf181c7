// Package transport owns a deck's loaded source: asynchronous loading,
// play/pause, position, seeking and bounded (looping) playback.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
	"github.com/satindergrewal/deckd/internal/chain"
)

var tracer = otel.Tracer("github.com/satindergrewal/deckd/internal/transport")

// State is the playback state of a loaded source.
type State int

const (
	Paused State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "paused"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Loader resolves a source reference into decoded, seekable audio at
// audio.SampleRate.
type Loader interface {
	Load(ctx context.Context, ref string) (beep.StreamSeekCloser, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref string) (beep.StreamSeekCloser, error)

func (f LoaderFunc) Load(ctx context.Context, ref string) (beep.StreamSeekCloser, error) {
	return f(ctx, ref)
}

// LoadResult is delivered once per Load call.
type LoadResult struct {
	Generation uint64
	Ref        string
	Duration   float64
	Err        error
}

// Ready describes a freshly installed source. Node is the streamer that
// renders it; it is already connected to the output port.
type Ready struct {
	Generation uint64
	Ref        string
	Node       beep.Streamer
	Duration   float64
}

// Options configures a Transport.
type Options struct {
	Logger *zap.Logger
	// OnReady runs under the transport lock right after a load is
	// installed. It must not call back into the Transport.
	OnReady func(Ready)
}

// Snapshot is a consistent view of the transport.
type Snapshot struct {
	Ref       string  `json:"ref,omitempty"`
	Pending   string  `json:"pending,omitempty"`
	State     State   `json:"state"`
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
	Looping   bool    `json:"looping"`
	LoopStart float64 `json:"loop_start,omitempty"`
	LoopEnd   float64 `json:"loop_end,omitempty"`
}

type fade int

const (
	fadeNone fade = iota
	fadeIn
	fadeOut
	fadeJump
)

// Transport plays one source at a time into an output port.
type Transport struct {
	loader  Loader
	out     *chain.Port
	log     *zap.Logger
	onReady func(Ready)

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	closed  bool
	pending string

	ref    string
	src    beep.StreamSeekCloser
	voice  *voice
	conn   *chain.Conn
	length int

	state     State
	fade      fade
	pausePos  int
	jumpFrom  int
	tail      [][2]float64
	looping   bool
	loopStart int
	loopEnd   int
}

// New returns an empty transport rendering into out.
func New(loader Loader, out *chain.Port, opts Options) *Transport {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		loader:  loader,
		out:     out,
		log:     log,
		onReady: opts.OnReady,
	}
}

// Load starts loading ref and returns immediately. The returned channel
// receives exactly one result and is then closed.
//
// Each call supersedes any load still in flight: its context is cancelled
// and its completion, whenever it arrives, is discarded with ErrSuperseded.
// On a failed load the previous source stays installed.
func (t *Transport) Load(ctx context.Context, ref string) <-chan LoadResult {
	res := make(chan LoadResult, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		res <- LoadResult{Ref: ref, Err: audio.ErrDestroyed}
		close(res)
		return res
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.gen++
	gen := t.gen
	lctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.pending = ref
	t.mu.Unlock()

	t.log.Debug("load started", zap.String("ref", ref), zap.Uint64("generation", gen))

	go func() {
		defer close(res)
		defer cancel()

		lctx, span := tracer.Start(lctx, "transport.load", trace.WithAttributes(
			attribute.String("deckd.ref", ref),
			attribute.Int64("deckd.generation", int64(gen)),
		))
		defer span.End()

		src, err := t.loader.Load(lctx, ref)
		r := t.complete(gen, ref, src, err)
		if r.Err != nil {
			span.RecordError(r.Err)
			span.SetStatus(codes.Error, r.Err.Error())
		}
		res <- r
	}()
	return res
}

func (t *Transport) complete(gen uint64, ref string, src beep.StreamSeekCloser, err error) LoadResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := LoadResult{Generation: gen, Ref: ref}

	if gen != t.gen || t.closed {
		if src != nil {
			src.Close()
		}
		t.log.Debug("stale load discarded", zap.String("ref", ref), zap.Uint64("generation", gen))
		r.Err = audio.ErrSuperseded
		return r
	}
	t.pending = ""
	t.cancel = nil

	if err == nil && src != nil && src.Len() <= 0 {
		src.Close()
		err = errors.New("source is empty")
	}
	if err == nil && src == nil {
		err = errors.New("loader returned no source")
	}
	if err != nil {
		var sle *audio.SourceLoadError
		if !errors.As(err, &sle) {
			err = &audio.SourceLoadError{Ref: ref, Err: err}
		}
		t.log.Warn("load failed", zap.String("ref", ref), zap.Error(err))
		r.Err = err
		return r
	}

	t.release()

	t.ref = ref
	t.src = src
	t.length = src.Len()
	if src.Position() != 0 {
		if err := src.Seek(0); err != nil {
			t.log.Warn("rewind loaded source", zap.Error(err))
		}
	}

	v := &voice{t: t}
	t.voice = v
	t.conn = t.out.Connect(v)

	r.Duration = audio.Seconds(t.length)
	t.log.Info("source ready",
		zap.String("ref", ref),
		zap.Uint64("generation", gen),
		zap.Float64("duration", r.Duration),
	)
	if t.onReady != nil {
		t.onReady(Ready{Generation: gen, Ref: ref, Node: v, Duration: r.Duration})
	}
	return r
}

// release drops the installed source. Callers hold t.mu.
func (t *Transport) release() {
	if t.voice != nil {
		t.voice.released = true
		t.voice = nil
	}
	if t.conn != nil {
		t.out.Release(t.conn)
		t.conn = nil
	}
	if t.src != nil {
		if err := t.src.Close(); err != nil {
			t.log.Warn("close source", zap.String("ref", t.ref), zap.Error(err))
		}
		t.src = nil
	}
	t.ref = ""
	t.length = 0
	t.state = Paused
	t.fade = fadeNone
	t.looping = false
}

// PlayPause toggles between Paused and Playing and returns the new state.
// Playing from the end of the source restarts it.
func (t *Transport) PlayPause() (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.src == nil {
		return Paused, audio.ErrNoSource
	}
	switch t.state {
	case Playing:
		t.state = Paused
		t.fade = fadeOut
		t.pausePos = t.src.Position()
	default:
		if t.fade == fadeOut {
			t.fade = fadeNone
		} else {
			t.fade = fadeIn
		}
		if t.src.Position() >= t.length {
			if err := t.src.Seek(0); err != nil {
				return t.state, fmt.Errorf("rewind: %w", err)
			}
			t.fade = fadeIn
		}
		t.state = Playing
	}
	return t.state, nil
}

// State returns the playback state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Position returns the playback position in seconds, 0 with no source.
func (t *Transport) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position()
}

func (t *Transport) position() float64 {
	if t.src == nil {
		return 0
	}
	if t.fade == fadeOut {
		return audio.Seconds(t.pausePos)
	}
	return audio.Seconds(t.src.Position())
}

// AtPosition calls fn with the current position while holding the transport
// lock, so no render quantum advances the position while fn runs.
func (t *Transport) AtPosition(fn func(sec float64)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.src == nil {
		return audio.ErrNoSource
	}
	fn(t.position())
	return nil
}

// Duration returns the length of the loaded source in seconds.
func (t *Transport) Duration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.Seconds(t.length)
}

// Seek moves to sec clamped to [0, Duration] and returns the applied
// position. Seeking outside an active loop region leaves loop mode.
func (t *Transport) Seek(sec float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.src == nil {
		return 0, audio.ErrNoSource
	}
	if math.IsNaN(sec) {
		sec = 0
	}
	pos := t.clamp(sec)
	if t.looping && (pos < t.loopStart || pos >= t.loopEnd) {
		t.looping = false
	}
	from := t.src.Position()
	if err := t.src.Seek(pos); err != nil {
		return t.position(), fmt.Errorf("seek to %d: %w", pos, err)
	}
	switch {
	case t.fade == fadeOut:
		t.pausePos = pos
	case t.state == Playing && t.fade == fadeNone:
		t.fade, t.jumpFrom = fadeJump, from
	}
	return audio.Seconds(pos), nil
}

// PlayRange positions at start and plays, jumping back to start every time
// the position reaches end. The bounds are clamped to the source.
func (t *Transport) PlayRange(start, end float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.src == nil {
		return audio.ErrNoSource
	}
	if !(end > start) {
		return fmt.Errorf("%w: [%.3f, %.3f]", audio.ErrInvalidLoopRange, start, end)
	}
	s, e := t.clamp(start), t.clamp(end)
	if e <= s {
		return fmt.Errorf("%w: [%.3f, %.3f] is outside the source", audio.ErrInvalidLoopRange, start, end)
	}
	from := t.src.Position()
	if err := t.src.Seek(s); err != nil {
		return fmt.Errorf("seek to loop start: %w", err)
	}
	// An audible jump crossfades from the old position; a silent one fades in.
	switch {
	case t.fade == fadeJump:
	case t.fade == fadeOut, t.state == Playing && t.fade == fadeNone:
		t.fade, t.jumpFrom = fadeJump, from
	default:
		t.fade = fadeIn
	}
	t.looping = true
	t.loopStart, t.loopEnd = s, e
	t.state = Playing
	return nil
}

// ClearRange leaves loop mode without touching position or state.
func (t *Transport) ClearRange() {
	t.mu.Lock()
	t.looping = false
	t.mu.Unlock()
}

// Snapshot returns the transport state read under one lock.
func (t *Transport) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		Ref:      t.ref,
		Pending:  t.pending,
		State:    t.state,
		Position: t.position(),
		Duration: audio.Seconds(t.length),
		Looping:  t.looping,
	}
	if t.looping {
		s.LoopStart = audio.Seconds(t.loopStart)
		s.LoopEnd = audio.Seconds(t.loopEnd)
	}
	return s
}

// Close cancels any pending load and releases the source. Later loads
// fail with audio.ErrDestroyed. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.pending = ""
	t.release()
	return nil
}

func (t *Transport) clamp(sec float64) int {
	switch {
	case sec <= 0:
		return 0
	case sec >= audio.Seconds(t.length):
		return t.length
	}
	return min(audio.Samples(sec), t.length)
}
