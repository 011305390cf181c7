// Package server exposes decks over HTTP: a REST control surface, a gesture
// websocket per deck, and the deck monitors.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
	"github.com/satindergrewal/deckd/internal/stream"
)

// Monitor serves listener endpoints for decks. *stream.Monitor satisfies it.
type Monitor interface {
	MP3(label string) (http.Handler, bool)
	WebRTC(label string) (http.Handler, bool)
	Stats() []stream.FeedStats
}

// Catalog resolves track ids. *catalog.Client satisfies it.
type Catalog interface {
	Tracks(ctx context.Context, query string) ([]audio.TrackInfo, error)
	Track(ctx context.Context, id string) (audio.TrackInfo, error)
}

// Sessions forgets persisted decks. *session.Store satisfies it.
type Sessions interface {
	Delete(ctx context.Context, label string) error
}

// Options configures a Server. Monitor, Catalog and Sessions are optional.
type Options struct {
	Registry    *Registry
	Monitor     Monitor
	Catalog     Catalog
	Sessions    Sessions
	LoadTimeout time.Duration
	Logger      *zap.Logger
}

// Server routes HTTP requests to decks.
type Server struct {
	reg         *Registry
	monitor     Monitor
	catalog     Catalog
	sessions    Sessions
	loadTimeout time.Duration
	log         *zap.Logger
}

// New returns a Server.
func New(opts Options) *Server {
	s := &Server{
		reg:         opts.Registry,
		monitor:     opts.Monitor,
		catalog:     opts.Catalog,
		sessions:    opts.Sessions,
		loadTimeout: opts.LoadTimeout,
		log:         opts.Logger,
	}
	if s.loadTimeout <= 0 {
		s.loadTimeout = 2 * time.Minute
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(cors)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "decks": len(s.reg.List())})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/decks", s.handleListDecks).Methods(http.MethodGet)
	api.HandleFunc("/decks", s.handleCreateDeck).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}", s.handleGetDeck).Methods(http.MethodGet)
	api.HandleFunc("/decks/{label}", s.handleDeleteDeck).Methods(http.MethodDelete)

	api.HandleFunc("/decks/{label}/load", s.gesture(OpLoad, bodyGesture)).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}/play-pause", s.gesture(OpPlayPause, noBody)).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}/seek", s.gesture(OpSeek, bodyGesture)).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}/cues", s.gesture(OpSetCue, noBody)).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}/cues/{index:[0-9]+}/jump", s.gesture(OpJumpCue, cueIndex)).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}/loop/point", s.gesture(OpLoopPoint, noBody)).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}/loop/play", s.gesture(OpLoopPlay, noBody)).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}/loop/exit", s.gesture(OpLoopExit, noBody)).Methods(http.MethodPost)
	api.HandleFunc("/decks/{label}/eq/{param}", s.gesture(OpEQ, eqParam)).Methods(http.MethodPut)
	api.HandleFunc("/decks/{label}/eq/{param}", s.handleGetEQ).Methods(http.MethodGet)

	api.HandleFunc("/decks/{label}/ws", s.handleWS).Methods(http.MethodGet)
	api.HandleFunc("/decks/{label}/stream", s.handleStream).Methods(http.MethodGet)
	api.HandleFunc("/decks/{label}/offer", s.handleOffer).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/tracks", s.handleTracks).Methods(http.MethodGet)
	api.HandleFunc("/monitor", s.handleMonitor).Methods(http.MethodGet)

	return router
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
	}()

	s.log.Info("http server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]any{"ok": false, "error": err.Error()})
}
