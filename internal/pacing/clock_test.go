package pacing

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPeriod = 10 * time.Millisecond

func TestNewFrameClock_InvalidPeriod(t *testing.T) {
	t.Parallel()
	_, err := NewFrameClock(0)
	assert.Error(t, err)
	_, err = NewFrameClock(-time.Millisecond)
	assert.Error(t, err)
}

func TestFrameClock_FreeRunsBeforeFirstVsync(t *testing.T) {
	t.Parallel()

	c, err := NewFrameClock(testPeriod)
	require.NoError(t, err)

	est, corrected := c.CurrentVsyncEstimate(25_000_000)
	assert.Equal(t, int64(20_000_000), est)
	assert.False(t, corrected)

	est, _ = c.CurrentVsyncEstimate(-5_000_000)
	assert.Equal(t, int64(-10_000_000), est)
	assert.Zero(t, c.Corrections())
}

func TestFrameClock_Estimate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		vsync         int64
		now           int64
		wantEst       int64
		wantCorrected bool
	}{
		{"recent vsync", 100_000_000, 104_000_000, 100_000_000, false},
		{"exactly one period", 100_000_000, 110_000_000, 100_000_000, false},
		{"vsync in the future is clamped", 100_000_000, 50_000_000, 50_000_000, false},
		{"stalled three periods", 0, 35_000_000, 30_000_000, true},
		{"stalled just over one period", 0, 10_000_001, 10_000_000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewFrameClock(testPeriod)
			require.NoError(t, err)
			c.OnVsync(tt.vsync)

			est, corrected := c.CurrentVsyncEstimate(tt.now)
			assert.Equal(t, tt.wantEst, est)
			assert.Equal(t, tt.wantCorrected, corrected)
			if tt.wantCorrected {
				assert.Equal(t, uint64(1), c.Corrections())
			}
		})
	}
}

func TestFrameClock_EstimateNeverAfterNow(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	c, err := NewFrameClock(testPeriod)
	require.NoError(t, err)

	now := int64(0)
	for i := 0; i < 10_000; i++ {
		now += rng.Int63n(int64(3 * testPeriod))
		if rng.Intn(3) > 0 {
			// Vsync timestamps jitter around now, sometimes ahead of it.
			c.OnVsync(now + rng.Int63n(int64(2*testPeriod)) - int64(testPeriod))
		}
		est, _ := c.CurrentVsyncEstimate(now)
		require.LessOrEqual(t, est, now, "iteration %d", i)
		require.LessOrEqual(t, now-est, int64(testPeriod), "iteration %d", i)
	}
	assert.NotZero(t, c.Observed())
}

func TestFrameClock_ConcurrentVsync(t *testing.T) {
	t.Parallel()

	c, err := NewFrameClock(testPeriod)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.OnVsync(int64(g*1000 + i))
			}
		}(g)
	}
	for i := 0; i < 1000; i++ {
		est, _ := c.CurrentVsyncEstimate(5000)
		require.LessOrEqual(t, est, int64(5000))
	}
	wg.Wait()
	assert.Equal(t, uint64(4000), c.Observed())
}
