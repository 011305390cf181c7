package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/chain"
	"github.com/satindergrewal/deckd/internal/deck"
	"github.com/satindergrewal/deckd/internal/logger"
)

// gestureReader builds a gesture from a request.
type gestureReader func(r *http.Request, g *Gesture) error

func noBody(*http.Request, *Gesture) error { return nil }

func bodyGesture(r *http.Request, g *Gesture) error {
	op := g.Op
	if err := json.NewDecoder(r.Body).Decode(g); err != nil {
		return fmt.Errorf("%w: %v", errBadGesture, err)
	}
	g.Op = op
	return nil
}

func cueIndex(r *http.Request, g *Gesture) error {
	i, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		return fmt.Errorf("%w: cue index: %v", errBadGesture, err)
	}
	g.Index = i
	return nil
}

func eqParam(r *http.Request, g *Gesture) error {
	if err := bodyGesture(r, g); err != nil {
		return err
	}
	g.Param = mux.Vars(r)["param"]
	return nil
}

// gesture adapts a REST route to the gesture dispatcher.
func (s *Server) gesture(op string, read gestureReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.reg.Get(mux.Vars(r)["label"])
		if !ok {
			writeError(w, ErrDeckNotFound)
			return
		}
		g := Gesture{Op: op}
		if err := read(r, &g); err != nil {
			writeError(w, err)
			return
		}
		result, err := s.apply(r.Context(), d, g)
		if err != nil {
			s.log.Debug("gesture failed",
				logger.Deck(d.Label()),
				zap.String("op", op),
				zap.Error(err),
			)
			writeError(w, err)
			return
		}
		code := http.StatusOK
		if _, pending := result.(LoadAccepted); pending {
			code = http.StatusAccepted
		}
		writeJSON(w, code, result)
	}
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	decks := s.reg.List()
	out := make([]deck.Status, 0, len(decks))
	for _, d := range decks {
		out = append(out, d.Status())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadGesture, err))
		return
	}
	d, err := s.reg.Create(strings.TrimSpace(req.Label))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d.Status())
}

func (s *Server) handleGetDeck(w http.ResponseWriter, r *http.Request) {
	st, ok := s.reg.Status(mux.Vars(r)["label"])
	if !ok {
		writeError(w, ErrDeckNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// EQParam describes one chain parameter of a deck.
type EQParam struct {
	Param     chain.Key `json:"param"`
	Value     float64   `json:"value"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Default   float64   `json:"default"`
	Frequency float64   `json:"frequency,omitempty"`
}

func (s *Server) handleGetEQ(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	d, ok := s.reg.Get(vars["label"])
	if !ok {
		writeError(w, ErrDeckNotFound)
		return
	}
	k, err := chain.ParseKey(vars["param"])
	if err != nil {
		writeError(w, err)
		return
	}
	lo, hi := k.Range()
	writeJSON(w, http.StatusOK, EQParam{
		Param:     k,
		Value:     d.EQ(k),
		Min:       lo,
		Max:       hi,
		Default:   k.Default(),
		Frequency: k.Frequency(),
	})
}

func (s *Server) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["label"]
	if err := s.reg.Remove(label); err != nil {
		if errors.Is(err, ErrDeckNotFound) {
			writeError(w, err)
			return
		}
		s.log.Warn("destroy deck", logger.Deck(label), zap.Error(err))
	}
	if s.sessions != nil {
		if err := s.sessions.Delete(r.Context(), label); err != nil {
			s.log.Warn("delete session", logger.Deck(label), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "label": label})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.serveMonitor(w, r, Monitor.MP3)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	s.serveMonitor(w, r, Monitor.WebRTC)
}

func (s *Server) serveMonitor(w http.ResponseWriter, r *http.Request, pick func(Monitor, string) (http.Handler, bool)) {
	if s.monitor == nil {
		http.Error(w, "monitor output is not enabled", http.StatusNotFound)
		return
	}
	h, ok := pick(s.monitor, mux.Vars(r)["label"])
	if !ok {
		http.Error(w, "deck not found", http.StatusNotFound)
		return
	}
	h.ServeHTTP(w, r)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, errNoCatalog)
		return
	}
	tracks, err := s.catalog.Tracks(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "feeds": s.monitor.Stats()})
}
