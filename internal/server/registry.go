package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/satindergrewal/deckd/internal/deck"
)

var (
	// ErrDeckNotFound is returned for labels with no live deck.
	ErrDeckNotFound = errors.New("deck not found")
	// ErrDeckExists is returned when creating a label that is taken.
	ErrDeckExists = errors.New("deck already exists")
	// ErrInvalidLabel is returned when creating a deck without a label.
	ErrInvalidLabel = errors.New("invalid deck label")
)

// Factory builds a deck. The registry appends its own observer to opts.
type Factory func(label string, opts ...deck.Option) (*deck.Deck, error)

// Registry holds the live decks by label and fans their status out to
// subscribers.
type Registry struct {
	newDeck Factory

	mu    sync.RWMutex
	decks map[string]*deck.Deck
	subs  map[string]map[chan deck.Status]struct{}
}

// NewRegistry returns an empty registry that builds decks with f.
func NewRegistry(f Factory) *Registry {
	return &Registry{
		newDeck: f,
		decks:   make(map[string]*deck.Deck),
		subs:    make(map[string]map[chan deck.Status]struct{}),
	}
}

// Create builds and registers a deck under label.
func (r *Registry) Create(label string, opts ...deck.Option) (*deck.Deck, error) {
	if label == "" {
		return nil, ErrInvalidLabel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decks[label]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDeckExists, label)
	}
	d, err := r.newDeck(label, append(opts, deck.WithObserver(r.publish))...)
	if err != nil {
		return nil, err
	}
	r.decks[label] = d
	return d, nil
}

// Get returns the deck registered under label.
func (r *Registry) Get(label string) (*deck.Deck, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decks[label]
	return d, ok
}

// Status returns the current status of the deck under label.
func (r *Registry) Status(label string) (deck.Status, bool) {
	d, ok := r.Get(label)
	if !ok {
		return deck.Status{}, false
	}
	return d.Status(), true
}

// List returns every deck ordered by label.
func (r *Registry) List() []*deck.Deck {
	r.mu.RLock()
	out := make([]*deck.Deck, 0, len(r.decks))
	for _, d := range r.decks {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Label() < out[j].Label() })
	return out
}

// Remove destroys and unregisters the deck under label.
func (r *Registry) Remove(label string) error {
	r.mu.Lock()
	d, ok := r.decks[label]
	delete(r.decks, label)
	subs := r.subs[label]
	delete(r.subs, label)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrDeckNotFound, label)
	}
	for ch := range subs {
		close(ch)
	}
	return d.Destroy()
}

// Close destroys every deck.
func (r *Registry) Close() error {
	var errs []error
	for _, d := range r.List() {
		if err := r.Remove(d.Label()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe returns a channel receiving the status of label after every
// change. The channel closes when the deck is removed or cancel is called.
func (r *Registry) Subscribe(label string) (<-chan deck.Status, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decks[label]; !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrDeckNotFound, label)
	}
	ch := make(chan deck.Status, 16)
	if r.subs[label] == nil {
		r.subs[label] = make(map[chan deck.Status]struct{})
	}
	r.subs[label][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.subs[label][ch]; ok {
				delete(r.subs[label], ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// publish delivers st to subscribers without blocking. Slow subscribers
// miss intermediate updates.
func (r *Registry) publish(st deck.Status) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs[st.Label] {
		select {
		case ch <- st:
		default:
		}
	}
}
