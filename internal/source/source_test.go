package source

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"

	"github.com/satindergrewal/deckd/internal/audio"
)

// writeWAV writes seconds of a constant level at rate and returns the path.
func writeWAV(t *testing.T, dir, name string, rate beep.SampleRate, seconds, level float64) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	n := int(float64(rate) * seconds)
	tone := beep.Take(n, beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{level, level}
		}
		return len(samples), true
	}))
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, tone, format); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return p
}

func load(t *testing.T, d *Decoder, ref string) beep.StreamSeekCloser {
	t.Helper()
	s, err := d.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load(%q): %v", ref, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadWAV(t *testing.T) {
	p := writeWAV(t, t.TempDir(), "tone.wav", audio.SampleRate, 0.5, 0.25)
	s := load(t, New(Options{}), p)

	if s.Len() != audio.SampleRate/2 {
		t.Errorf("Len = %d, want %d", s.Len(), audio.SampleRate/2)
	}
	buf := make([][2]float64, 64)
	if n, ok := s.Stream(buf); n != len(buf) || !ok {
		t.Fatalf("Stream = %d, %v", n, ok)
	}
	if math.Abs(buf[10][0]-0.25) > 1e-3 || math.Abs(buf[10][1]-0.25) > 1e-3 {
		t.Errorf("sample = %v, want 0.25 on both channels", buf[10])
	}
}

func TestLoadResamples(t *testing.T) {
	p := writeWAV(t, t.TempDir(), "cd.wav", 44100, 1, 0.1)
	s := load(t, New(Options{}), p)

	if d := s.Len() - audio.SampleRate; d < -64 || d > 64 {
		t.Errorf("Len = %d, want about %d", s.Len(), audio.SampleRate)
	}
}

func TestLoadIsSeekable(t *testing.T) {
	p := writeWAV(t, t.TempDir(), "tone.wav", audio.SampleRate, 1, 0.1)
	s := load(t, New(Options{}), p)

	if err := s.Seek(1000); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if s.Position() != 1000 {
		t.Errorf("Position = %d, want 1000", s.Position())
	}
}

func TestLoadFileURL(t *testing.T) {
	p := writeWAV(t, t.TempDir(), "tone.wav", audio.SampleRate, 0.1, 0.1)
	s := load(t, New(Options{}), "file://"+p)
	if s.Len() != audio.SampleRate/10 {
		t.Errorf("Len = %d, want %d", s.Len(), audio.SampleRate/10)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := New(Options{}).Load(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	var sle *audio.SourceLoadError
	if !errors.As(err, &sle) {
		t.Fatalf("error = %v, want SourceLoadError", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want wrapping fs.ErrNotExist", err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.wav")
	os.WriteFile(p, []byte("definitely not a wav file"), 0o644)
	_, err := New(Options{}).Load(context.Background(), p)
	var sle *audio.SourceLoadError
	if !errors.As(err, &sle) {
		t.Errorf("error = %v, want SourceLoadError", err)
	}
}

func TestLoadHTTP(t *testing.T) {
	p := writeWAV(t, t.TempDir(), "tone.wav", audio.SampleRate, 0.25, 0.1)
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tracks/tone.wav":
			w.Write(data)
		case "/stream/42":
			w.Header().Set("Content-Type", "audio/wav")
			w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(Options{HTTPClient: srv.Client()})
	for _, ref := range []string{srv.URL + "/tracks/tone.wav", srv.URL + "/stream/42"} {
		s := load(t, d, ref)
		if s.Len() != audio.SampleRate/4 {
			t.Errorf("Load(%q) Len = %d, want %d", ref, s.Len(), audio.SampleRate/4)
		}
	}

	_, err = d.Load(context.Background(), srv.URL+"/missing.wav")
	var sle *audio.SourceLoadError
	if !errors.As(err, &sle) {
		t.Errorf("404 error = %v, want SourceLoadError", err)
	}
}

func TestUnsupportedReferences(t *testing.T) {
	d := New(Options{})
	for _, ref := range []string{"ftp://host/track.mp3", "s3://bucket/key.mp3"} {
		_, err := d.Load(context.Background(), ref)
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("Load(%q) error = %v, want ErrUnsupported", ref, err)
		}
	}
}

func TestFFmpegFallbackFailure(t *testing.T) {
	p := filepath.Join(t.TempDir(), "track.aiff")
	os.WriteFile(p, []byte("FORM"), 0o644)

	d := New(Options{FFmpegPath: filepath.Join(t.TempDir(), "no-ffmpeg")})
	_, err := d.Load(context.Background(), p)
	var sle *audio.SourceLoadError
	if !errors.As(err, &sle) {
		t.Errorf("error = %v, want SourceLoadError", err)
	}
}

func TestLoadCancelled(t *testing.T) {
	p := writeWAV(t, t.TempDir(), "tone.wav", audio.SampleRate, 1, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Load(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestExtFromContentType(t *testing.T) {
	tests := []struct {
		ct, want string
	}{
		{"audio/mpeg", ".mp3"},
		{"audio/wav; charset=binary", ".wav"},
		{"audio/x-flac", ".flac"},
		{"application/ogg", ".ogg"},
		{"text/html", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extFromContentType(tt.ct); got != tt.want {
			t.Errorf("extFromContentType(%q) = %q, want %q", tt.ct, got, tt.want)
		}
	}
}
