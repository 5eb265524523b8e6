package camera_test

import (
	"testing"
	"time"

	camera "github.com/edgeimpulse/linux-camera-go"
)

func TestFrameRate(t *testing.T) {
	f0 := &camera.FrameRate{}
	_, err := f0.Tick(time.Now())
	if err == nil {
		t.Errorf("missing error for FrameRate created without NewFrameRate")
	}

	f0, err = camera.NewFrameRate(3)
	if err != nil {
		t.Fatalf("making new FrameRate: %v", err)
	}

	t0 := time.Unix(1000, 0)
	r, err := f0.Tick(t0)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if r != 0 {
		t.Fatalf("unexpected rate after first tick: %v", r)
	}
	r, _ = f0.Tick(t0.Add(100 * time.Millisecond))
	if r != 10 {
		t.Fatalf("unexpected rate after Tick: %v", r)
	}
	r, _ = f0.Tick(t0.Add(300 * time.Millisecond))
	if r != float64(time.Second)/float64(150*time.Millisecond) {
		t.Fatalf("unexpected rate after Tick: %v", r)
	}
	_, _ = f0.Tick(t0.Add(400 * time.Millisecond))
	r, _ = f0.Tick(t0.Add(500 * time.Millisecond))
	// Window holds 200ms, 100ms, 100ms.
	if r != float64(time.Second)/float64(400*time.Millisecond/3) {
		t.Fatalf("unexpected rate after Tick: %v", r)
	}
	if f0.Rate() != r {
		t.Fatalf("Rate %v differs from last Tick %v", f0.Rate(), r)
	}

	_, err = f0.Tick(t0)
	if err == nil {
		t.Fatalf("missing error for tick going backwards")
	}

	_, err = camera.NewFrameRate(0)
	if err == nil {
		t.Fatalf("missing error for new FrameRate with size 0")
	}
}
