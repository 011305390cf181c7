// Package session persists deck snapshots in Redis so a restarted server
// can bring its decks back with the same track, EQ and cue points.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/chain"
	"github.com/satindergrewal/deckd/internal/deck"
	"github.com/satindergrewal/deckd/internal/logger"
)

// ErrNoSession is returned by Load when no snapshot is stored for a label.
var ErrNoSession = errors.New("no stored session")

const keyPrefix = "deckd:session:"

// Key returns the Redis key holding the snapshot for label.
func Key(label string) string {
	return keyPrefix + label
}

// Snapshot is the persisted part of a deck.
type Snapshot struct {
	Label   string             `json:"label"`
	Ref     string             `json:"ref"`
	EQ      map[string]float64 `json:"eq"`
	Cues    []float64          `json:"cues,omitempty"`
	SavedAt time.Time          `json:"saved_at"`
}

// SnapshotOf extracts the persisted fields from a deck status.
func SnapshotOf(st deck.Status) Snapshot {
	return Snapshot{
		Label: st.Label,
		Ref:   st.Transport.Ref,
		EQ:    st.EQ,
		Cues:  st.Cues,
	}
}

// Client is the subset of the Redis API the store uses. *redis.Client
// satisfies it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store reads and writes snapshots.
type Store struct {
	rdb Client
	ttl time.Duration
	log *zap.Logger
}

// NewStore returns a Store. A zero ttl keeps snapshots forever.
func NewStore(rdb Client, ttl time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{rdb: rdb, ttl: ttl, log: log}
}

// Save writes snap under its label.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, Key(snap.Label), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %q: %w", snap.Label, err)
	}
	return nil
}

// Load returns the snapshot stored for label, or ErrNoSession.
func (s *Store) Load(ctx context.Context, label string) (Snapshot, error) {
	data, err := s.rdb.Get(ctx, Key(label)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSession
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session %q: %w", label, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode session %q: %w", label, err)
	}
	return snap, nil
}

// Delete removes the snapshot for label. Deleting a missing snapshot is
// not an error.
func (s *Store) Delete(ctx context.Context, label string) error {
	if err := s.rdb.Del(ctx, Key(label)).Err(); err != nil {
		return fmt.Errorf("delete session %q: %w", label, err)
	}
	return nil
}

// Restore applies snap to d: EQ first, then the source, then the cue
// points in their original order. The deck is left paused at 0.
func Restore(ctx context.Context, d *deck.Deck, snap Snapshot) error {
	for name, v := range snap.EQ {
		k, err := chain.ParseKey(name)
		if err != nil {
			return err
		}
		if _, err := d.SetEQ(k, v); err != nil {
			return err
		}
	}
	if snap.Ref == "" {
		return nil
	}

	select {
	case r := <-d.Load(ctx, snap.Ref):
		if r.Err != nil {
			return r.Err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, c := range snap.Cues {
		if _, err := d.Seek(c); err != nil {
			return err
		}
		if _, _, err := d.SetCue(); err != nil {
			return err
		}
	}
	_, err := d.Seek(0)
	return err
}

// Recorder saves deck snapshots in the background. Observe is cheap and
// only marks a label dirty; Run writes the current status of dirty decks.
type Recorder struct {
	store  *Store
	lookup func(label string) (deck.Status, bool)

	mu    sync.Mutex
	dirty map[string]struct{}
	kick  chan struct{}
}

// NewRecorder returns a Recorder that fetches fresh status through lookup.
func NewRecorder(store *Store, lookup func(label string) (deck.Status, bool)) *Recorder {
	return &Recorder{
		store:  store,
		lookup: lookup,
		dirty:  make(map[string]struct{}),
		kick:   make(chan struct{}, 1),
	}
}

// Observe marks the deck behind st for saving. It fits deck.WithObserver.
func (r *Recorder) Observe(st deck.Status) {
	if st.State == deck.Loading {
		return
	}
	r.mu.Lock()
	r.dirty[st.Label] = struct{}{}
	r.mu.Unlock()
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run flushes dirty decks until ctx is done, then flushes once more.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.Flush(context.Background())
			return
		case <-r.kick:
			r.Flush(ctx)
		}
	}
}

// Flush saves every dirty deck that still exists and forgets the rest.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	labels := make([]string, 0, len(r.dirty))
	for l := range r.dirty {
		labels = append(labels, l)
	}
	clear(r.dirty)
	r.mu.Unlock()

	for _, l := range labels {
		st, ok := r.lookup(l)
		if !ok {
			continue
		}
		if err := r.store.Save(ctx, SnapshotOf(st)); err != nil {
			r.store.log.Warn("save session", logger.Deck(l), zap.Error(err))
		}
	}
}
