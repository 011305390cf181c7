package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/satindergrewal/deckd/internal/chain"
	"github.com/satindergrewal/deckd/internal/deck"
	"github.com/satindergrewal/deckd/internal/transport"
)

// Gesture operations accepted over REST and the websocket.
const (
	OpLoad      = "load"
	OpPlayPause = "play_pause"
	OpSeek      = "seek"
	OpSetCue    = "set_cue"
	OpJumpCue   = "jump_cue"
	OpLoopPoint = "loop_point"
	OpLoopPlay  = "loop_play"
	OpLoopExit  = "loop_exit"
	OpEQ        = "eq"
	OpStatus    = "status"
)

var (
	errBadGesture = errors.New("bad gesture")
	errNoCatalog  = errors.New("track catalog is not configured")
)

// Gesture is one control action on a deck.
type Gesture struct {
	Op       string   `json:"op"`
	Ref      string   `json:"ref,omitempty"`
	TrackID  string   `json:"track_id,omitempty"`
	Wait     bool     `json:"wait,omitempty"`
	Position *float64 `json:"position,omitempty"`
	Index    int      `json:"index,omitempty"`
	Param    string   `json:"param,omitempty"`
	Value    *float64 `json:"value,omitempty"`
}

// LoadAccepted is returned for a load that has not completed yet.
type LoadAccepted struct {
	Ref     string `json:"ref"`
	Pending bool   `json:"pending"`
}

// apply runs g on d and returns a JSON-ready result.
func (s *Server) apply(ctx context.Context, d *deck.Deck, g Gesture) (any, error) {
	switch g.Op {
	case OpLoad:
		return s.load(ctx, d, g)
	case OpPlayPause:
		st, err := d.PlayPause()
		if err != nil {
			return nil, err
		}
		return map[string]any{"state": st}, nil
	case OpSeek:
		if g.Position == nil {
			return nil, fmt.Errorf("%w: seek needs a position", errBadGesture)
		}
		pos, err := d.Seek(*g.Position)
		if err != nil {
			return nil, err
		}
		return map[string]any{"position": pos}, nil
	case OpSetCue:
		idx, at, err := d.SetCue()
		if err != nil {
			return nil, err
		}
		return map[string]any{"index": idx, "position": at}, nil
	case OpJumpCue:
		pos, err := d.JumpToCue(g.Index)
		if err != nil {
			return nil, err
		}
		return map[string]any{"index": g.Index, "position": pos}, nil
	case OpLoopPoint:
		return d.SetLoopPoint()
	case OpLoopPlay:
		if err := d.PlayLoop(); err != nil {
			return nil, err
		}
		return d.Status().Transport, nil
	case OpLoopExit:
		if err := d.ExitLoop(); err != nil {
			return nil, err
		}
		return d.Status().Transport, nil
	case OpEQ:
		k, err := chain.ParseKey(g.Param)
		if err != nil {
			return nil, err
		}
		if g.Value == nil {
			return nil, fmt.Errorf("%w: eq needs a value", errBadGesture)
		}
		applied, err := d.SetEQ(k, *g.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"param": k, "value": applied}, nil
	case OpStatus:
		return d.Status(), nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", errBadGesture, g.Op)
	}
}

// load starts a load that outlives the request, bounded by the load
// timeout. With g.Wait it blocks until the load completes or ctx is done.
func (s *Server) load(ctx context.Context, d *deck.Deck, g Gesture) (any, error) {
	ref, err := s.resolve(ctx, g)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
	in := d.Load(lctx, ref)
	done := make(chan transport.LoadResult, 1)
	go func() {
		defer cancel()
		done <- <-in
	}()

	if !g.Wait {
		return LoadAccepted{Ref: ref, Pending: true}, nil
	}
	select {
	case r := <-done:
		if r.Err != nil {
			return nil, r.Err
		}
		return d.Status(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) resolve(ctx context.Context, g Gesture) (string, error) {
	switch {
	case g.Ref != "":
		return g.Ref, nil
	case g.TrackID != "":
		if s.catalog == nil {
			return "", errNoCatalog
		}
		t, err := s.catalog.Track(ctx, g.TrackID)
		if err != nil {
			return "", err
		}
		if t.URL == "" {
			return "", fmt.Errorf("%w: track %q has no audio", errBadGesture, g.TrackID)
		}
		return t.URL, nil
	default:
		return "", fmt.Errorf("%w: load needs ref or track_id", errBadGesture)
	}
}
