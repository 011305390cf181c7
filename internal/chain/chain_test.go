package chain

import (
	"errors"
	"math"
	"testing"

	"github.com/gopxl/beep/v2"
)

// constant streams the same value on both channels forever.
func constant(v float64) beep.Streamer {
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{v, v}
		}
		return len(samples), true
	})
}

// sine streams a sine wave of the given frequency and amplitude at 48 kHz.
func sine(freq, amp float64) beep.Streamer {
	n := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := amp * math.Sin(2*math.Pi*freq*float64(n)/48000)
			samples[i] = [2]float64{v, v}
			n++
		}
		return len(samples), true
	})
}

// render pulls n samples from s in 512-sample quanta and returns them.
func render(s beep.Streamer, n int) [][2]float64 {
	out := make([][2]float64, 0, n)
	buf := make([][2]float64, 512)
	for len(out) < n {
		m := min(len(buf), n-len(out))
		s.Stream(buf[:m])
		out = append(out, buf[:m]...)
	}
	return out
}

func peak(samples [][2]float64) float64 {
	p := 0.0
	for _, s := range samples {
		p = math.Max(p, math.Abs(s[0]))
	}
	return p
}

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestSetParameterClamps(t *testing.T) {
	c := New(nil)
	values := []float64{-100, -1, 0, 0.5, 1, 1.5, 2, 2.5, 499, 500, 750, 10000, 20000, math.Inf(1), math.Inf(-1)}
	for _, k := range Keys() {
		lo, hi := k.Range()
		for _, v := range values {
			got, err := c.SetParameter(k, v)
			if err != nil {
				t.Fatalf("SetParameter(%v, %v) error: %v", k, v, err)
			}
			if got < lo || got > hi {
				t.Errorf("SetParameter(%v, %v) = %v, outside [%v, %v]", k, v, got, lo, hi)
			}
			if live := c.Parameter(k); live != got {
				t.Errorf("Parameter(%v) = %v, want %v", k, live, got)
			}
			if v >= lo && v <= hi && got != v {
				t.Errorf("SetParameter(%v, %v) = %v, in-range value changed", k, v, got)
			}
		}
	}
}

func TestSetParameterNaNUsesDefault(t *testing.T) {
	c := New(nil)
	got, _ := c.SetParameter(Filter, math.NaN())
	if got != Filter.Default() {
		t.Errorf("SetParameter(Filter, NaN) = %v, want %v", got, Filter.Default())
	}
}

func TestSetParameterUnknownKey(t *testing.T) {
	c := New(nil)
	if _, err := c.SetParameter(Key(42), 1); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("SetParameter(Key(42)) error = %v, want ErrUnknownParameter", err)
	}
}

func TestStageRanges(t *testing.T) {
	tests := []struct {
		key      Key
		lo, hi   float64
		freq     float64
		name     string
		fallback float64
	}{
		{Gain, 0, 2, 0, "gain", 1},
		{Low, 0, 2, 320, "low", 1},
		{Mid, 0, 2, 1000, "mid", 1},
		{High, 0, 2, 3200, "high", 1},
		{Filter, 500, 10000, 0, "filter", 10000},
	}
	for _, tt := range tests {
		lo, hi := tt.key.Range()
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("%v.Range() = [%v, %v], want [%v, %v]", tt.key, lo, hi, tt.lo, tt.hi)
		}
		if f := tt.key.Frequency(); f != tt.freq {
			t.Errorf("%v.Frequency() = %v, want %v", tt.key, f, tt.freq)
		}
		if tt.key.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.key.String(), tt.name)
		}
		if d := tt.key.Default(); d != tt.fallback {
			t.Errorf("%v.Default() = %v, want %v", tt.key, d, tt.fallback)
		}
	}
}

func TestParseKey(t *testing.T) {
	for _, k := range Keys() {
		got, err := ParseKey(" " + k.String() + " ")
		if err != nil || got != k {
			t.Errorf("ParseKey(%q) = %v, %v", k.String(), got, err)
		}
	}
	if got, err := ParseKey("HIGH"); err != nil || got != High {
		t.Errorf("ParseKey(HIGH) = %v, %v, want High", got, err)
	}
	if _, err := ParseKey("treble"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("ParseKey(treble) error = %v, want ErrUnknownParameter", err)
	}
}

func TestPortSilentWhenDisconnected(t *testing.T) {
	p := NewPort()
	buf := [][2]float64{{1, 1}, {1, 1}}
	n, ok := p.Stream(buf)
	if n != 2 || !ok {
		t.Fatalf("Stream = %d, %v, want 2, true", n, ok)
	}
	for i, s := range buf {
		if s != [2]float64{} {
			t.Errorf("sample[%d] = %v, want silence", i, s)
		}
	}
}

func TestPortReleaseOnlyCurrent(t *testing.T) {
	p := NewPort()
	old := p.Connect(constant(1))
	cur := p.Connect(constant(2))
	if p.Release(old) {
		t.Error("Release(old) = true, want false after replacement")
	}
	if !p.connected(cur) {
		t.Error("current connection lost")
	}
	if !p.Release(cur) || !p.idle() {
		t.Error("Release(current) should leave port idle")
	}
}

func TestWireReplacesDirectConnection(t *testing.T) {
	c := New(nil)
	dst := NewPort()
	src := constant(1)
	dst.Connect(src)

	c.SetParameter(Gain, 0)
	if err := c.Wire(src, dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	out := render(dst, 1024)
	if p := peak(out); p != 0 {
		t.Errorf("peak with gain 0 = %v, want 0 (direct connection still live?)", p)
	}
}

func TestWireTwiceFails(t *testing.T) {
	c := New(nil)
	dst := NewPort()
	if err := c.Wire(constant(1), dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	if err := c.Wire(constant(1), dst); !errors.Is(err, ErrAlreadyWired) {
		t.Errorf("second Wire error = %v, want ErrAlreadyWired", err)
	}
	c.Teardown()
	if err := c.Wire(constant(1), dst); err != nil {
		t.Errorf("Wire after Teardown: %v", err)
	}
}

func TestTeardownIdempotent(t *testing.T) {
	c := New(nil)
	c.Teardown()
	c.Teardown()

	dst := NewPort()
	if err := c.Wire(constant(1), dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	c.Teardown()
	c.Teardown()
	if !dst.idle() {
		t.Error("port still connected after Teardown")
	}
	if c.wired() {
		t.Error("wired() = true after Teardown")
	}
}

func TestTeardownKeepsNewerConnection(t *testing.T) {
	c := New(nil)
	dst := NewPort()
	if err := c.Wire(constant(1), dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	newer := dst.Connect(constant(0.25))
	c.Teardown()
	if !dst.connected(newer) {
		t.Error("Teardown removed a connection it did not own")
	}
}

func TestParameterBufferedBeforeWire(t *testing.T) {
	c := New(nil)
	c.SetParameter(Gain, 0.5)

	dst := NewPort()
	if err := c.Wire(constant(1), dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	out := render(dst, 9600)
	if last := out[len(out)-1][0]; !near(last, 0.5, 1e-6) {
		t.Errorf("settled output = %v, want 0.5", last)
	}
}

func TestParameterAppliesNextQuantum(t *testing.T) {
	c := New(nil)
	dst := NewPort()
	if err := c.Wire(constant(0.25), dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	out := render(dst, 9600)
	if last := out[len(out)-1][0]; !near(last, 0.25, 1e-6) {
		t.Fatalf("settled output = %v, want 0.25", last)
	}

	c.SetParameter(Gain, 2)
	buf := make([][2]float64, 256)
	dst.Stream(buf)
	if got := buf[len(buf)-1][0]; !near(got, 0.5, 1e-6) {
		t.Errorf("end of quantum after gain change = %v, want 0.5", got)
	}
}

func TestLowKillAttenuatesDC(t *testing.T) {
	c := New(nil)
	c.SetParameter(Low, 0)
	dst := NewPort()
	if err := c.Wire(constant(1), dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	out := render(dst, 48000)
	// −40 dB shelf at DC.
	if last := out[len(out)-1][0]; !near(last, 0.01, 1e-3) {
		t.Errorf("DC through killed low shelf = %v, want ~0.01", last)
	}
}

func TestMidBoostAtCenter(t *testing.T) {
	c := New(nil)
	c.SetParameter(Mid, 2)
	dst := NewPort()
	if err := c.Wire(sine(1000, 0.25), dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	out := render(dst, 48000)
	// +6 dB at the peaking center doubles the amplitude.
	if p := peak(out[24000:]); !near(p, 0.5, 0.02) {
		t.Errorf("peak at 1 kHz with mid=2 = %v, want ~0.5", p)
	}
}

func TestFilterCutsHighFrequencies(t *testing.T) {
	c := New(nil)
	c.SetParameter(Filter, 500)
	dst := NewPort()
	if err := c.Wire(sine(8000, 1), dst); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	out := render(dst, 48000)
	if p := peak(out[24000:]); p > 0.02 {
		t.Errorf("8 kHz peak through 500 Hz lowpass = %v, want < 0.02", p)
	}
}

func TestFlatEQIsTransparent(t *testing.T) {
	for _, k := range []Key{Low, Mid, High} {
		got := design(k, 1, 48000)
		if !near(got.b0, 1, 1e-12) || !near(got.b1, got.a1, 1e-12) || !near(got.b2, got.a2, 1e-12) {
			t.Errorf("%v at knob 1 is not identity: %+v", k, got)
		}
	}
}

func TestKnobDB(t *testing.T) {
	tests := []struct {
		v, want float64
	}{
		{0, -40},
		{0.001, -40},
		{1, 0},
		{2, 20 * math.Log10(2)},
	}
	for _, tt := range tests {
		if got := knobDB(tt.v); !near(got, tt.want, 1e-9) {
			t.Errorf("knobDB(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
