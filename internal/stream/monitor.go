package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/logger"
)

var (
	// ErrAttached is returned when a label already has a feed.
	ErrAttached = errors.New("output already attached")

	// ErrNotAttached is returned for labels without a feed.
	ErrNotAttached = errors.New("output not attached")
)

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	FFmpegPath string
	// MP3Bitrate in kbit/s.
	MP3Bitrate int
	// OpusBitrate in bit/s.
	OpusBitrate int
	Logger      *zap.Logger
}

// Monitor is a network sink: every attached deck output gets its own
// real-time clock, broadcaster, MP3 stream and WebRTC endpoint.
type Monitor struct {
	opts MonitorOptions
	log  *zap.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	clock  *Clock
	bc     *Broadcaster
	mp3    *HTTPHandler
	rtc    *WebRTCHandler
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor with no feeds.
func NewMonitor(opts MonitorOptions) *Monitor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		opts:  opts,
		log:   log,
		feeds: make(map[string]*feed),
	}
}

// Attach starts pulling s in real time under label.
func (m *Monitor) Attach(label string, s beep.Streamer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.feeds[label]; ok {
		return fmt.Errorf("%w: %s", ErrAttached, label)
	}

	log := m.log.With(logger.Deck(label))
	ctx, cancel := context.WithCancel(context.Background())
	bc := NewBroadcaster()
	f := &feed{
		clock: NewClock(s),
		bc:    bc,
		mp3: NewHTTPHandler(bc, HTTPOptions{
			FFmpegPath: m.opts.FFmpegPath,
			Bitrate:    m.opts.MP3Bitrate,
			Name:       "deckd " + label,
			Logger:     log,
		}),
		rtc: NewWebRTCHandler(bc, WebRTCOptions{
			Bitrate:  m.opts.OpusBitrate,
			StreamID: "deckd-" + label,
			Logger:   log,
		}),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go f.clock.Run(ctx)
	go func() {
		defer close(f.done)
		bc.Run(ctx, f.clock.Frames())
	}()

	m.feeds[label] = f
	log.Info("monitor attached")
	return nil
}

// Detach stops the feed for label and hangs up its listeners.
func (m *Monitor) Detach(label string) error {
	m.mu.Lock()
	f, ok := m.feeds[label]
	delete(m.feeds, label)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, label)
	}

	f.cancel()
	f.rtc.Close()
	<-f.done
	m.log.Info("monitor detached", logger.Deck(label))
	return nil
}

// MP3 returns the MP3 stream handler of label.
func (m *Monitor) MP3(label string) (http.Handler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[label]
	if !ok {
		return nil, false
	}
	return f.mp3, true
}

// WebRTC returns the WebRTC offer handler of label.
func (m *Monitor) WebRTC(label string) (http.Handler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[label]
	if !ok {
		return nil, false
	}
	return f.rtc, true
}

// FeedStats describes one feed.
type FeedStats struct {
	Label     string        `json:"label"`
	Listeners int           `json:"listeners"`
	Peers     int           `json:"peers"`
	Rendered  time.Duration `json:"rendered_ns"`
}

// Stats returns per-feed counters sorted by label.
func (m *Monitor) Stats() []FeedStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FeedStats, 0, len(m.feeds))
	for label, f := range m.feeds {
		out = append(out, FeedStats{
			Label:     label,
			Listeners: f.bc.ListenerCount(),
			Peers:     f.rtc.PeerCount(),
			Rendered:  f.clock.Rendered(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Close detaches every feed.
func (m *Monitor) Close() error {
	m.mu.Lock()
	labels := make([]string, 0, len(m.feeds))
	for label := range m.feeds {
		labels = append(labels, label)
	}
	m.mu.Unlock()

	var errs []error
	for _, label := range labels {
		if err := m.Detach(label); err != nil && !errors.Is(err, ErrNotAttached) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
