// Package source resolves source references into decoded in-memory audio at
// the engine sample rate.
//
// Supported references:
//
//	/path/to/file.mp3, file:///path/to/file.flac
//	http://host/track.ogg, https://host/track
//	s3://bucket/key.wav
//
// MP3, WAV, FLAC and Ogg Vorbis are decoded in-process. Anything else goes
// through FFmpeg.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/satindergrewal/deckd/internal/audio"
)

// ErrUnsupported is returned for references no resolver understands.
var ErrUnsupported = errors.New("unsupported source reference")

// Format is the layout every decoded source is converted to.
var Format = beep.Format{
	SampleRate:  audio.SampleRate,
	NumChannels: audio.Channels,
	Precision:   2,
}

// resampleQuality is the interpolation window passed to beep.Resample.
const resampleQuality = 4

// Options configures a Decoder. Zero values are usable.
type Options struct {
	FFmpegPath string
	HTTPClient *http.Client
	// Minio serves s3:// references. Without it they fail.
	Minio    *minio.Client
	SpoolDir string
	Logger   *zap.Logger
}

// Decoder loads and fully decodes sources. It implements transport.Loader.
type Decoder struct {
	ffmpeg string
	client *http.Client
	minio  *minio.Client
	spool  string
	log    *zap.Logger
}

// New returns a Decoder.
func New(opts Options) *Decoder {
	d := &Decoder{
		ffmpeg: opts.FFmpegPath,
		client: opts.HTTPClient,
		minio:  opts.Minio,
		spool:  opts.SpoolDir,
		log:    opts.Logger,
	}
	if d.ffmpeg == "" {
		d.ffmpeg = "ffmpeg"
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 60 * time.Second}
	}
	if d.spool == "" {
		d.spool = os.TempDir()
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	return d
}

// Load decodes ref into memory and returns a seekable stream over it.
// Failures are reported as *audio.SourceLoadError.
func (d *Decoder) Load(ctx context.Context, ref string) (beep.StreamSeekCloser, error) {
	start := time.Now()
	buf, err := d.decode(ctx, ref)
	if err != nil {
		return nil, &audio.SourceLoadError{Ref: ref, Err: err}
	}
	if buf.Len() == 0 {
		return nil, &audio.SourceLoadError{Ref: ref, Err: errors.New("no audio decoded")}
	}
	d.log.Info("source decoded",
		zap.String("ref", ref),
		zap.Float64("duration", audio.Seconds(buf.Len())),
		zap.Duration("took", time.Since(start)),
	)
	return &buffered{StreamSeeker: buf.Streamer(0, buf.Len())}, nil
}

// buffered is a decoded source held in memory. Close is a no-op; the
// buffer is reclaimed once the transport drops it.
type buffered struct {
	beep.StreamSeeker
}

func (b *buffered) Close() error {
	return nil
}

func (d *Decoder) decode(ctx context.Context, ref string) (*beep.Buffer, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse reference: %w", err)
	}

	switch u.Scheme {
	case "", "file":
		p := ref
		if u.Scheme == "file" {
			p = u.Path
		}
		return d.decodeFile(ctx, p)
	case "http", "https":
		return d.decodeHTTP(ctx, u)
	case "s3":
		return d.decodeObject(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupported, u.Scheme)
	}
}

func (d *Decoder) decodeFile(ctx context.Context, p string) (*beep.Buffer, error) {
	ext := strings.ToLower(filepath.Ext(p))
	if !native(ext) {
		return d.decodeFFmpeg(ctx, p)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return bufferStream(ctx, f, ext)
}

func (d *Decoder) decodeHTTP(ctx context.Context, u *url.URL) (*beep.Buffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if !native(ext) {
		ext = extFromContentType(resp.Header.Get("Content-Type"))
	}
	if !native(ext) {
		// FFmpeg reads the URL itself.
		resp.Body.Close()
		return d.decodeFFmpeg(ctx, u.String())
	}
	return bufferStream(ctx, resp.Body, ext)
}

func (d *Decoder) decodeObject(ctx context.Context, bucket, key string) (*beep.Buffer, error) {
	if d.minio == nil {
		return nil, fmt.Errorf("%w: object storage is not configured", ErrUnsupported)
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 reference needs bucket and key", ErrUnsupported)
	}

	obj, err := d.minio.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat object: %w", err)
	}
	d.log.Debug("object found",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size),
	)

	ext := strings.ToLower(path.Ext(key))
	if native(ext) {
		return bufferStream(ctx, obj, ext)
	}

	defer obj.Close()
	spool, err := d.spoolTo(obj, ext)
	if err != nil {
		return nil, err
	}
	defer os.Remove(spool)
	return d.decodeFFmpeg(ctx, spool)
}

// spoolTo copies r to a uniquely named file so FFmpeg can read it.
func (d *Decoder) spoolTo(r io.Reader, ext string) (string, error) {
	name := filepath.Join(d.spool, "deckd-"+uuid.NewString()+ext)
	f, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("spool object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return name, nil
}

func (d *Decoder) decodeFFmpeg(ctx context.Context, input string) (*beep.Buffer, error) {
	pcm, err := audio.DecodeFile(ctx, d.ffmpeg, input)
	if err != nil {
		return nil, err
	}
	return fill(ctx, audio.Int16Streamer(pcm), Format.SampleRate)
}

func native(ext string) bool {
	switch ext {
	case ".mp3", ".wav", ".flac", ".ogg", ".oga":
		return true
	}
	return false
}

func extFromContentType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	switch mt {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/ogg", "audio/vorbis", "application/ogg":
		return ".ogg"
	}
	return ""
}

// bufferStream decodes rc according to ext and closes it.
func bufferStream(ctx context.Context, rc io.ReadCloser, ext string) (*beep.Buffer, error) {
	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch ext {
	case ".mp3":
		s, format, err = mp3.Decode(rc)
	case ".wav":
		s, format, err = wav.Decode(rc)
	case ".flac":
		s, format, err = flac.Decode(rc)
	case ".ogg", ".oga":
		s, format, err = vorbis.Decode(rc)
	default:
		rc.Close()
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupported, ext)
	}
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("decode %s: %w", strings.TrimPrefix(ext, "."), err)
	}
	defer s.Close()
	return fill(ctx, s, format.SampleRate)
}

// fill drains s into a buffer at the engine rate, stopping early when ctx
// is done.
func fill(ctx context.Context, s beep.Streamer, rate beep.SampleRate) (*beep.Buffer, error) {
	src := s
	if rate != Format.SampleRate {
		src = beep.Resample(resampleQuality, rate, Format.SampleRate, s)
	}
	buf := beep.NewBuffer(Format)
	buf.Append(&ctxStreamer{ctx: ctx, s: src})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return buf, nil
}

type ctxStreamer struct {
	ctx context.Context
	s   beep.Streamer
}

func (c *ctxStreamer) Stream(samples [][2]float64) (int, bool) {
	if c.ctx.Err() != nil {
		return 0, false
	}
	return c.s.Stream(samples)
}

func (c *ctxStreamer) Err() error {
	return c.s.Err()
}
