package sink

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/gopxl/beep/v2"
)

func level(v float64) beep.Streamer {
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{v, v}
		}
		return len(samples), true
	})
}

func testDevice() *Device {
	var mu sync.Mutex
	return newDevice(nil, mu.Lock, mu.Unlock, nil)
}

func render(d *Device) [2]float64 {
	buf := make([][2]float64, 64)
	d.mixer.Stream(buf)
	return buf[len(buf)-1]
}

func TestAttachSumsOutputs(t *testing.T) {
	d := testDevice()
	if err := d.Attach("A", level(0.25)); err != nil {
		t.Fatalf("Attach A: %v", err)
	}
	if err := d.Attach("B", level(0.5)); err != nil {
		t.Fatalf("Attach B: %v", err)
	}
	if got := render(d)[0]; math.Abs(got-0.75) > 1e-9 {
		t.Errorf("mixed level = %v, want 0.75", got)
	}
}

func TestAttachDuplicate(t *testing.T) {
	d := testDevice()
	d.Attach("A", level(0.1))
	if err := d.Attach("A", level(0.1)); !errors.Is(err, ErrAttached) {
		t.Errorf("Attach error = %v, want ErrAttached", err)
	}
}

func TestDetachRemovesOutput(t *testing.T) {
	d := testDevice()
	d.Attach("A", level(0.25))
	d.Attach("B", level(0.5))

	if err := d.Detach("A"); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if got := render(d)[0]; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("level after detach = %v, want 0.5", got)
	}
	if d.Attached() != 1 {
		t.Errorf("Attached = %d, want 1", d.Attached())
	}
	if err := d.Detach("A"); !errors.Is(err, ErrNotAttached) {
		t.Errorf("second Detach error = %v, want ErrNotAttached", err)
	}
}

func TestCloseDetachesAll(t *testing.T) {
	d := testDevice()
	d.Attach("A", level(0.25))
	d.Close()
	if d.Attached() != 0 {
		t.Errorf("Attached after Close = %d, want 0", d.Attached())
	}
	if got := render(d)[0]; got != 0 {
		t.Errorf("level after Close = %v, want 0", got)
	}
}
