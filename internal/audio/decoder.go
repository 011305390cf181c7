package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"

	"github.com/gopxl/beep/v2"
)

// DecodeFile runs FFmpeg to decode any input FFmpeg can open (path or URL)
// to raw PCM int16 samples. Returns interleaved stereo samples at SampleRate.
func DecodeFile(ctx context.Context, ffmpegPath, input string) ([]int16, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", input,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", input, err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}

	return samples, nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Int16Streamer streams interleaved stereo int16 samples as beep float frames.
// A trailing odd sample is ignored.
func Int16Streamer(samples []int16) beep.Streamer {
	pos := 0
	frames := len(samples) / Channels
	return beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= frames {
			return 0, false
		}
		n := 0
		for n < len(out) && pos < frames {
			out[n][0] = float64(samples[pos*2]) / 32768
			out[n][1] = float64(samples[pos*2+1]) / 32768
			n++
			pos++
		}
		return n, true
	})
}
