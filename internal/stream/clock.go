package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/deckd/internal/audio"
)

// Clock pulls a deck output in real time, one 20ms frame per tick, and
// emits the frames as interleaved int16 PCM.
//
// A deck output has exactly one puller; its position only advances while a
// clock (or a device, or an offline render) is pulling.
type Clock struct {
	src     beep.Streamer
	frameCh chan []int16
	frames  atomic.Int64
}

// NewClock creates a clock over src.
func NewClock(src beep.Streamer) *Clock {
	return &Clock{
		src:     src,
		frameCh: make(chan []int16, 4),
	}
}

// Frames returns the channel that receives rendered PCM frames.
func (c *Clock) Frames() <-chan []int16 {
	return c.frameCh
}

// Rendered returns how much audio has been pulled so far.
func (c *Clock) Rendered() time.Duration {
	return time.Duration(c.frames.Load()) * audio.FrameDuration
}

// Run renders until ctx is cancelled, then closes the frame channel.
func (c *Clock) Run(ctx context.Context) {
	defer close(c.frameCh)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	buf := make([][2]float64, audio.FrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, ok := c.src.Stream(buf)
		if !ok {
			n = 0
		}
		clear(buf[n:])
		frame := audio.ToInt16(buf, nil)
		c.frames.Add(1)

		select {
		case c.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}
