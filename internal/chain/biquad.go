package chain

import "math"

// minShelfDB is the attenuation applied when an EQ knob is fully closed.
const minShelfDB = -40.0

type coeffs struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// biquad is a stereo Direct Form I filter section.
type biquad struct {
	c      coeffs
	x1, x2 [2]float64
	y1, y2 [2]float64
}

func (f *biquad) process(samples [][2]float64) {
	c := f.c
	for i := range samples {
		for ch := 0; ch < 2; ch++ {
			x := samples[i][ch]
			y := c.b0*x + c.b1*f.x1[ch] + c.b2*f.x2[ch] - c.a1*f.y1[ch] - c.a2*f.y2[ch]
			f.x2[ch], f.x1[ch] = f.x1[ch], x
			f.y2[ch], f.y1[ch] = f.y1[ch], y
			samples[i][ch] = y
		}
	}
}

// knobDB maps a linear EQ knob value (1 = flat) to a gain in dB.
func knobDB(v float64) float64 {
	if v <= 0 {
		return minShelfDB
	}
	return math.Max(20*math.Log10(v), minShelfDB)
}

// design returns the coefficients for stage k at knob value v.
func design(k Key, v, sampleRate float64) coeffs {
	s := stageSpecs[k]
	switch s.kind {
	case kindLowShelf:
		return lowShelf(s.freq, knobDB(v), sampleRate)
	case kindPeaking:
		return peaking(s.freq, knobDB(v), 1, sampleRate)
	case kindHighShelf:
		return highShelf(s.freq, knobDB(v), sampleRate)
	case kindLowpass:
		return lowpass(v, 1/math.Sqrt2, sampleRate)
	}
	return coeffs{b0: 1}
}

func normalize(b0, b1, b2, a0, a1, a2 float64) coeffs {
	return coeffs{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// Shelf slope S is fixed at 1.
func lowShelf(freq, dbGain, sampleRate float64) coeffs {
	a := math.Pow(10, dbGain/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cos, sin := math.Cos(w0), math.Sin(w0)
	alpha := sin / 2 * math.Sqrt2
	sqA := 2 * math.Sqrt(a) * alpha
	return normalize(
		a*((a+1)-(a-1)*cos+sqA),
		2*a*((a-1)-(a+1)*cos),
		a*((a+1)-(a-1)*cos-sqA),
		(a+1)+(a-1)*cos+sqA,
		-2*((a-1)+(a+1)*cos),
		(a+1)+(a-1)*cos-sqA,
	)
}

func highShelf(freq, dbGain, sampleRate float64) coeffs {
	a := math.Pow(10, dbGain/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cos, sin := math.Cos(w0), math.Sin(w0)
	alpha := sin / 2 * math.Sqrt2
	sqA := 2 * math.Sqrt(a) * alpha
	return normalize(
		a*((a+1)+(a-1)*cos+sqA),
		-2*a*((a-1)+(a+1)*cos),
		a*((a+1)+(a-1)*cos-sqA),
		(a+1)-(a-1)*cos+sqA,
		2*((a-1)-(a+1)*cos),
		(a+1)-(a-1)*cos-sqA,
	)
}

func peaking(freq, dbGain, q, sampleRate float64) coeffs {
	a := math.Pow(10, dbGain/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cos, sin := math.Cos(w0), math.Sin(w0)
	alpha := sin / (2 * q)
	return normalize(
		1+alpha*a,
		-2*cos,
		1-alpha*a,
		1+alpha/a,
		-2*cos,
		1-alpha/a,
	)
}

func lowpass(cutoff, q, sampleRate float64) coeffs {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cos, sin := math.Cos(w0), math.Sin(w0)
	alpha := sin / (2 * q)
	return normalize(
		(1-cos)/2,
		1-cos,
		(1-cos)/2,
		1+alpha,
		-2*cos,
		1-alpha,
	)
}
