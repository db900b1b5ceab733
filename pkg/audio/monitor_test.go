package audio_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/audio/mock"
	"github.com/MrWong99/auricle/pkg/clock"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name   string
		window []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"silence", []float64{0, 0, 0, 0}, 0},
		{"constant", []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"full scale square", []float64{1, -1, 1, -1}, 1},
		// A DC-offset window still reads its true energy; a plain average of
		// magnitudes would be identical here, but the sign-alternating case
		// above is where averaging raw bytes goes wrong.
		{"dc offset", []float64{0.3, 0.3, 0.3, 0.3}, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.RMS(tt.window)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS(%v) = %v, want %v", tt.window, got, tt.want)
			}
		})
	}
}

func TestMonitorEmitsSamplePerTick(t *testing.T) {
	fake := clock.NewFake()
	meter := &mock.Meter{}
	meter.SetLevel(0.25)

	m := audio.NewMonitor(meter, fake)
	m.Start(context.Background())
	defer m.Close()

	fake.Advance(300 * time.Millisecond)

	for i := 0; i < 3; i++ {
		select {
		case s := <-m.Samples():
			if math.Abs(s.Level-0.25) > 1e-9 {
				t.Fatalf("sample %d level = %v, want 0.25", i, s.Level)
			}
		case <-time.After(time.Second):
			t.Fatalf("sample %d never arrived", i)
		}
	}
}

func TestMonitorEmptyMeterReadsZero(t *testing.T) {
	fake := clock.NewFake()
	meter := &mock.Meter{}
	meter.SetEmpty()

	m := audio.NewMonitor(meter, fake)
	m.Start(context.Background())
	defer m.Close()

	fake.Advance(100 * time.Millisecond)

	select {
	case s := <-m.Samples():
		if s.Level != 0 {
			t.Fatalf("level = %v, want 0 for empty meter", s.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("no sample arrived")
	}
}

func TestMonitorCloseEndsStream(t *testing.T) {
	fake := clock.NewFake()
	meter := &mock.Meter{}

	m := audio.NewMonitor(meter, fake)
	m.Start(context.Background())
	m.Close()

	// Channel must be closed after Close returns; drain anything buffered.
	for range m.Samples() {
	}
}

func TestMonitorCustomPeriod(t *testing.T) {
	fake := clock.NewFake()
	meter := &mock.Meter{}
	meter.SetLevel(0.1)

	m := audio.NewMonitor(meter, fake, audio.WithSamplePeriod(250*time.Millisecond))
	m.Start(context.Background())
	defer m.Close()

	fake.Advance(time.Second)

	var got int
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case <-m.Samples():
			got++
			if got == 4 {
				break loop
			}
		case <-deadline:
			break loop
		}
	}
	if got != 4 {
		t.Fatalf("got %d samples over 1s at 250ms period, want 4", got)
	}
}
