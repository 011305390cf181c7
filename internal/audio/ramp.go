package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Ramp scales a block of stereo samples by a smoothstep curve running from
// gain `from` at the first sample to gain `to` at the last one. It is used to
// de-click play/pause edges and loop wraps.
func Ramp(samples [][2]float64, from, to float64) {
	n := len(samples)
	if n == 0 {
		return
	}
	for i := range samples {
		progress := 1.0
		if n > 1 {
			progress = float64(i) / float64(n-1)
		}
		g := from + (to-from)*Smoothstep(progress)
		samples[i][0] *= g
		samples[i][1] *= g
	}
}

// ToInt16 converts float stereo samples in [-1, 1] to interleaved int16,
// clipping out-of-range values.
func ToInt16(samples [][2]float64, dst []int16) []int16 {
	if cap(dst) < len(samples)*Channels {
		dst = make([]int16, len(samples)*Channels)
	}
	dst = dst[:len(samples)*Channels]
	for i, s := range samples {
		dst[i*2] = clip(s[0])
		dst[i*2+1] = clip(s[1])
	}
	return dst
}

func clip(v float64) int16 {
	v *= 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
