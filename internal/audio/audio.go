package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// TrackInfo is the metadata the catalog hands to a deck. URL is the source
// reference passed to Load.
type TrackInfo struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URL    string `json:"url"`
}

// Seconds converts a sample offset at SampleRate to seconds.
func Seconds(n int) float64 {
	return float64(n) / SampleRate
}

// Samples converts seconds to a sample offset at SampleRate, rounding to the
// nearest sample.
func Samples(sec float64) int {
	return int(sec*SampleRate + 0.5)
}
