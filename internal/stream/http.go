package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"

	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
)

// HTTPHandler serves a chunked MP3 stream of one deck output.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	ffmpeg      string
	bitrate     int
	name        string
	log         *zap.Logger
}

// HTTPOptions configures an HTTPHandler.
type HTTPOptions struct {
	FFmpegPath string
	// Bitrate in kbit/s.
	Bitrate int
	// Name is announced as ICY-Name.
	Name   string
	Logger *zap.Logger
}

// NewHTTPHandler creates an HTTP stream handler.
func NewHTTPHandler(b *Broadcaster, opts HTTPOptions) *HTTPHandler {
	h := &HTTPHandler{
		broadcaster: b,
		ffmpeg:      opts.FFmpegPath,
		bitrate:     opts.Bitrate,
		name:        opts.Name,
		log:         opts.Logger,
	}
	if h.ffmpeg == "" {
		h.ffmpeg = "ffmpeg"
	}
	if h.bitrate <= 0 {
		h.bitrate = 192
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// FFmpeg: PCM stdin -> MP3 stdout
	cmd := exec.CommandContext(ctx, h.ffmpeg,
		"-f", "s16le",
		"-ar", fmt.Sprint(audio.SampleRate),
		"-ac", fmt.Sprint(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", h.bitrate),
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error("mp3 stream: stdin pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error("mp3 stream: stdout pipe", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error("mp3 stream: ffmpeg start", zap.Error(err))
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if h.name != "" {
		w.Header().Set("ICY-Name", h.name)
	}

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info("mp3 listener connected", zap.Int("listeners", h.broadcaster.ListenerCount()))
	defer h.log.Info("mp3 listener disconnected")

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame, ok := <-listener.C:
				if !ok {
					return
				}
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	// Read MP3 from FFmpeg and write to HTTP response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warn("mp3 stream: ffmpeg read", zap.Error(err))
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
