package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/deckd/internal/audio"
)

func level(v float64) beep.Streamer {
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{v, -v}
		}
		return len(samples), true
	})
}

func TestClockEmitsFrames(t *testing.T) {
	c := NewClock(level(0.5))
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	for i := 0; i < 3; i++ {
		select {
		case frame := <-c.Frames():
			if len(frame) != audio.FrameSamples {
				t.Fatalf("frame length = %d, want %d", len(frame), audio.FrameSamples)
			}
			if frame[0] != 16383 || frame[1] != -16383 {
				t.Errorf("frame[0:2] = %v, want [16383 -16383]", frame[:2])
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for frame")
		}
	}
	if c.Rendered() < 3*audio.FrameDuration {
		t.Errorf("Rendered = %v, want at least %v", c.Rendered(), 3*audio.FrameDuration)
	}

	cancel()
	select {
	case _, ok := <-c.Frames():
		for ok {
			_, ok = <-c.Frames()
		}
	case <-time.After(time.Second):
		t.Fatal("frame channel not closed after cancel")
	}
}

func TestClockPadsEndedSource(t *testing.T) {
	c := NewClock(beep.Silence(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case frame := <-c.Frames():
			if len(frame) != audio.FrameSamples {
				t.Errorf("frame length = %d, want %d", len(frame), audio.FrameSamples)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for frame")
		}
	}
}

func TestMonitorAttachDetach(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	defer m.Close()

	if err := m.Attach("A", level(0.1)); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := m.Attach("A", level(0.1)); !errors.Is(err, ErrAttached) {
		t.Errorf("second Attach error = %v, want ErrAttached", err)
	}
	if _, ok := m.MP3("A"); !ok {
		t.Error("MP3(A) not found")
	}
	if _, ok := m.WebRTC("A"); !ok {
		t.Error("WebRTC(A) not found")
	}
	if _, ok := m.MP3("B"); ok {
		t.Error("MP3(B) found for unattached label")
	}
	if stats := m.Stats(); len(stats) != 1 || stats[0].Label != "A" {
		t.Errorf("Stats = %+v, want one feed A", stats)
	}

	if err := m.Detach("A"); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := m.Detach("A"); !errors.Is(err, ErrNotAttached) {
		t.Errorf("second Detach error = %v, want ErrNotAttached", err)
	}
	if err := m.Attach("A", level(0.1)); err != nil {
		t.Errorf("re-Attach after Detach: %v", err)
	}
}

func TestMonitorFeedsListeners(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	defer m.Close()
	m.Attach("A", level(0.25))

	m.mu.Lock()
	bc := m.feeds["A"].bc
	m.mu.Unlock()

	l := bc.Subscribe()
	defer bc.Unsubscribe(l)
	select {
	case frame := <-l.C:
		if frame[0] != 8191 {
			t.Errorf("frame[0] = %d, want 8191", frame[0])
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for monitored frame")
	}
}

func TestHTTPHandlerEncoderMissing(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(), HTTPOptions{FFmpegPath: "/nonexistent/ffmpeg"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestWebRTCHandlerRejects(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(), WebRTCOptions{})

	tests := []struct {
		method string
		body   string
		want   int
	}{
		{http.MethodOptions, "", http.StatusOK},
		{http.MethodGet, "", http.StatusMethodNotAllowed},
		{http.MethodPost, "{not json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/offer", strings.NewReader(tt.body)))
		if rec.Code != tt.want {
			t.Errorf("%s status = %d, want %d", tt.method, rec.Code, tt.want)
		}
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d, want 0", h.PeerCount())
	}
}
