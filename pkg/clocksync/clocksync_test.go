package clocksync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_ZeroBeforeSample(t *testing.T) {
	e := New()
	assert.Equal(t, int64(0), e.Offset())
	assert.Equal(t, int64(5000), e.ServerNow(5000))
}

func TestObserve_AddsHalfAssumedRTT(t *testing.T) {
	e := New()
	// Server stamped 10_000, we saw it at local 9_000.
	e.Observe(10_000, 9_000)
	assert.Equal(t, int64(1050), e.Offset())
	assert.Equal(t, int64(10_150), e.ServerNow(9_100))
}

func TestObserve_OverwritesWithoutSmoothing(t *testing.T) {
	e := NewWithRTT(0)
	e.Observe(2000, 1000)
	e.Observe(1000, 1000)
	assert.Equal(t, int64(0), e.Offset())
}

func TestObservePing_UsesMeasuredRoundTrip(t *testing.T) {
	e := New()
	e.ObservePing(1000, 5040, 1080)
	assert.Equal(t, int64(5040+40-1080), e.Offset())

	e.ObservePing(2000, 9999, 1990)
	assert.Equal(t, int64(5040+40-1080), e.Offset(), "negative round trip ignored")
}

func TestFireDelay(t *testing.T) {
	e := NewWithRTT(0)
	e.Observe(1000, 0) // server runs 1000ms ahead

	cases := []struct {
		start, local int64
		want         time.Duration
	}{
		{1300, 0, 300 * time.Millisecond},
		{1300, 300, 0},
		{1300, 500, 0},
	}
	for _, tc := range cases {
		if got := e.FireDelay(tc.start, tc.local); got != tc.want {
			t.Fatalf("FireDelay(%d, %d): got %v, want %v", tc.start, tc.local, got, tc.want)
		}
	}
}

func TestEstimator_ConcurrentUse(t *testing.T) {
	e := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Observe(int64(i*100), 0)
			_ = e.FireDelay(1000, 0)
		}()
	}
	wg.Wait()
}
