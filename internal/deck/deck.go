// Package deck composes a transport, a signal chain, a cue store and a loop
// controller into one independently controllable playback unit.
package deck

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
	"github.com/satindergrewal/deckd/internal/chain"
	"github.com/satindergrewal/deckd/internal/cue"
	"github.com/satindergrewal/deckd/internal/logger"
	"github.com/satindergrewal/deckd/internal/loop"
	"github.com/satindergrewal/deckd/internal/transport"
)

// State is the deck lifecycle.
type State int

const (
	Unloaded State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sink consumes a deck's output under the deck's label.
type Sink interface {
	Attach(label string, s beep.Streamer) error
	Detach(label string) error
}

// Status is a point-in-time view of a deck.
type Status struct {
	ID        string             `json:"id"`
	Label     string             `json:"label"`
	State     State              `json:"state"`
	Transport transport.Snapshot `json:"transport"`
	EQ        map[string]float64 `json:"eq"`
	Cues      []float64          `json:"cues"`
	Loop      loop.Region        `json:"loop"`
	LastError string             `json:"error,omitempty"`
}

// Option configures a Deck.
type Option func(*Deck)

// WithLogger sets the deck's logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Deck) { d.log = l }
}

// WithSink attaches the deck output to s on creation and detaches it on
// Destroy.
func WithSink(s Sink) Option {
	return func(d *Deck) { d.sink = s }
}

// WithObserver registers fn to receive the deck status after every load
// completion and control change. Observers run one at a time, in
// registration order, on a goroutine owned by the deck. Changes made while
// an observer runs are folded into a single newer status, so the last
// status an observer sees is the current one. fn must not block.
func WithObserver(fn func(Status)) Option {
	return func(d *Deck) { d.observers = append(d.observers, fn) }
}

// Deck is one playback unit. All methods are safe for concurrent use.
type Deck struct {
	id        string
	label     string
	log       *zap.Logger
	sink      Sink
	observers []func(Status)

	out   *chain.Port
	chain *chain.Chain
	tr    *transport.Transport
	cues  *cue.Store
	loop  *loop.Controller

	changed chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	destroyed bool
	lastErr   error
}

// New creates a deck named label whose sources are resolved by loader.
func New(label string, loader transport.Loader, opts ...Option) (*Deck, error) {
	d := &Deck{
		id:    uuid.NewString(),
		label: label,
		log:   zap.NewNop(),
		out:   chain.NewPort(),
		cues:  cue.NewStore(),
		loop:  loop.NewController(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logger.Deck(label), zap.String("deck_id", d.id))
	d.chain = chain.New(d.log)
	d.tr = transport.New(loader, d.out, transport.Options{
		Logger:  d.log,
		OnReady: d.onReady,
	})

	if d.sink != nil {
		if err := d.sink.Attach(label, d.out); err != nil {
			return nil, fmt.Errorf("attach deck %q: %w", label, err)
		}
	}
	if len(d.observers) > 0 {
		d.changed = make(chan struct{}, 1)
		d.done = make(chan struct{})
		go d.deliver()
	}
	d.log.Info("deck created")
	return d, nil
}

// onReady runs under the transport lock with the new source already
// connected straight to the output. It splices the chain in between and
// clears the per-source cue and loop state.
func (d *Deck) onReady(r transport.Ready) {
	d.chain.Teardown()
	if err := d.chain.Wire(r.Node, d.out); err != nil {
		d.log.Error("wire chain", zap.Error(err))
	}
	d.cues.Reset()
	d.loop.Reset()
}

// ID returns the deck's instance id.
func (d *Deck) ID() string { return d.id }

// Label returns the caller-assigned label.
func (d *Deck) Label() string { return d.label }

// Output returns the deck's output. It renders silence until a source is
// loaded and never ends.
func (d *Deck) Output() beep.Streamer { return d.out }

// Load starts loading ref. The returned channel receives the result once;
// the deck state follows it.
func (d *Deck) Load(ctx context.Context, ref string) <-chan transport.LoadResult {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		ch := make(chan transport.LoadResult, 1)
		ch <- transport.LoadResult{Ref: ref, Err: audio.ErrDestroyed}
		close(ch)
		return ch
	}
	in := d.tr.Load(ctx, ref)
	d.mu.Unlock()

	d.log.Info("loading", zap.String("ref", ref))
	d.notify()

	out := make(chan transport.LoadResult, 1)
	go func() {
		defer close(out)
		r := <-in
		switch {
		case r.Err == nil:
			d.setErr(nil)
		case errors.Is(r.Err, audio.ErrSuperseded):
		default:
			d.setErr(r.Err)
			d.log.Warn("load failed", zap.String("ref", ref), zap.Error(r.Err))
		}
		out <- r
		d.notify()
	}()
	return out
}

// PlayPause toggles playback.
func (d *Deck) PlayPause() (transport.State, error) {
	if err := d.alive(); err != nil {
		return transport.Paused, err
	}
	st, err := d.tr.PlayPause()
	if err == nil {
		d.notify()
	}
	return st, err
}

// Seek moves to sec clamped to the source and returns the applied position.
func (d *Deck) Seek(sec float64) (float64, error) {
	if err := d.alive(); err != nil {
		return 0, err
	}
	pos, err := d.tr.Seek(sec)
	if err == nil {
		d.notify()
	}
	return pos, err
}

// SetCue stores the current position as a new cue point and returns its
// index and timestamp.
func (d *Deck) SetCue() (int, float64, error) {
	if err := d.alive(); err != nil {
		return 0, 0, err
	}
	var idx int
	var at float64
	err := d.tr.AtPosition(func(pos float64) {
		at = pos
		idx = d.cues.Capture(pos)
	})
	if err != nil {
		return 0, 0, err
	}
	d.notify()
	return idx, at, nil
}

// JumpToCue seeks to cue index i and returns the applied position.
func (d *Deck) JumpToCue(i int) (float64, error) {
	if err := d.alive(); err != nil {
		return 0, err
	}
	at, err := d.cues.Jump(i)
	if err != nil {
		return 0, err
	}
	pos, err := d.tr.Seek(at)
	if err == nil {
		d.notify()
	}
	return pos, err
}

// SetLoopPoint captures the current position as the loop start, or as the
// loop end once a start is set.
func (d *Deck) SetLoopPoint() (loop.Region, error) {
	if err := d.alive(); err != nil {
		return loop.Region{}, err
	}
	var r loop.Region
	err := d.tr.AtPosition(func(pos float64) {
		r = d.loop.Capture(pos)
	})
	if err != nil {
		return loop.Region{}, err
	}
	d.notify()
	return r, nil
}

// PlayLoop starts repeating the captured loop region.
func (d *Deck) PlayLoop() error {
	if err := d.alive(); err != nil {
		return err
	}
	if err := d.loop.Play(d.tr); err != nil {
		return err
	}
	d.notify()
	return nil
}

// ExitLoop stops repeating the loop region and keeps playing from the
// current position. The captured bounds are kept.
func (d *Deck) ExitLoop() error {
	if err := d.alive(); err != nil {
		return err
	}
	d.tr.ClearRange()
	d.notify()
	return nil
}

// SetEQ sets a chain parameter and returns the clamped value applied.
func (d *Deck) SetEQ(k chain.Key, v float64) (float64, error) {
	if err := d.alive(); err != nil {
		return 0, err
	}
	applied, err := d.chain.SetParameter(k, v)
	if err == nil {
		d.notify()
	}
	return applied, err
}

// EQ returns a chain parameter.
func (d *Deck) EQ(k chain.Key) float64 {
	return d.chain.Parameter(k)
}

// State returns the lifecycle state.
func (d *Deck) State() State {
	return stateOf(d.tr.Snapshot())
}

func stateOf(snap transport.Snapshot) State {
	switch {
	case snap.Pending != "":
		return Loading
	case snap.Ref != "":
		return Ready
	default:
		return Unloaded
	}
}

// Status returns a snapshot of the deck.
func (d *Deck) Status() Status {
	snap := d.tr.Snapshot()

	eq := make(map[string]float64)
	for k, v := range d.chain.Parameters() {
		eq[k.String()] = v
	}

	s := Status{
		ID:        d.id,
		Label:     d.label,
		State:     stateOf(snap),
		Transport: snap,
		EQ:        eq,
		Cues:      d.cues.Points(),
		Loop:      d.loop.Region(),
	}
	d.mu.Lock()
	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
	}
	d.mu.Unlock()
	return s
}

// Destroy releases the source, the chain and the sink attachment. Pending
// loads complete inertly. Safe to call more than once and before any load.
func (d *Deck) Destroy() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	d.mu.Unlock()
	if d.done != nil {
		close(d.done)
	}

	var errs []error
	if err := d.tr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	d.chain.Teardown()
	d.out.Disconnect()
	if d.sink != nil {
		if err := d.sink.Detach(d.label); err != nil {
			errs = append(errs, fmt.Errorf("detach: %w", err))
		}
	}
	d.log.Info("deck destroyed")
	return errors.Join(errs...)
}

func (d *Deck) alive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return audio.ErrDestroyed
	}
	return nil
}

func (d *Deck) setErr(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

// notify wakes the delivery goroutine. It never blocks: a wake-up that is
// already pending covers this change too.
func (d *Deck) notify() {
	if d.changed == nil {
		return
	}
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

// deliver reads a fresh status per wake-up and hands it to each observer in
// turn, so observers see statuses in the order they were taken.
func (d *Deck) deliver() {
	for {
		select {
		case <-d.done:
			return
		case <-d.changed:
		}
		s := d.Status()
		for _, fn := range d.observers {
			fn(s)
		}
	}
}
