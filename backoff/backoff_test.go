package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	t.Parallel()

	c := NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Fatalf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	t.Parallel()

	e := NewExponential(100*time.Millisecond, 2*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1600 * time.Millisecond},
		{6, 2 * time.Second}, // capped
		{20, 2 * time.Second},
		{0, 100 * time.Millisecond}, // clamped to attempt 1
	}

	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialNoCap(t *testing.T) {
	t.Parallel()

	e := NewExponential(time.Second, 0)
	if got := e.Delay(10); got != 512*time.Second {
		t.Fatalf("Delay(10) = %v, want 512s", got)
	}
}

func TestFullJitterBounds(t *testing.T) {
	t.Parallel()

	f := NewFullJitter(100*time.Millisecond, time.Second)

	for attempt := 1; attempt <= 8; attempt++ {
		upper := NewExponential(100*time.Millisecond, time.Second).Delay(attempt)
		for range 50 {
			d := f.Delay(attempt)
			if d < 0 || d > upper {
				t.Fatalf("Delay(%d) = %v outside [0, %v]", attempt, d, upper)
			}
		}
	}
}

func TestDefaultStrategy(t *testing.T) {
	t.Parallel()

	s := DefaultStrategy()
	if got := s.Delay(1); got != 500*time.Millisecond {
		t.Fatalf("default Delay(1) = %v, want 500ms", got)
	}
	if got := s.Delay(100); got != time.Minute {
		t.Fatalf("default Delay(100) = %v, want 1m cap", got)
	}
}
