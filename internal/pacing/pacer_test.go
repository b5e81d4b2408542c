package pacing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/passthrough/internal/timeutil"
)

func newTestPacer(t *testing.T, clock timeutil.Clock) *FramePacer {
	t.Helper()
	p, err := NewFramePacer(PacerConfig{FramePeriod: testPeriod, HalfwayFraction: 0.5}, clock)
	require.NoError(t, err)
	return p
}

func TestNewFramePacer_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  PacerConfig
	}{
		{"zero period", PacerConfig{FramePeriod: 0, HalfwayFraction: 0.5}},
		{"zero halfway", PacerConfig{FramePeriod: testPeriod, HalfwayFraction: 0}},
		{"halfway one", PacerConfig{FramePeriod: testPeriod, HalfwayFraction: 1}},
		{"late fraction too big", PacerConfig{FramePeriod: testPeriod, HalfwayFraction: 0.5, LateFraction: 1.5}},
	}
	for _, tt := range tests {
		_, err := NewFramePacer(tt.cfg, nil)
		assert.Error(t, err, tt.name)
	}

	p, err := NewFramePacer(PacerConfig{FramePeriod: testPeriod, HalfwayFraction: 0.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, testPeriod, p.Period())
	assert.Equal(t, int64(testPeriod), p.State().FramePeriodNs)
}

func TestFramePacer_PlanAtVsync(t *testing.T) {
	t.Parallel()

	p := newTestPacer(t, nil)
	plan := p.Plan(1_000_000_000, 1_000_000_000)

	assert.Equal(t, int64(5_000_000), plan.WaitNs)
	assert.False(t, plan.Jank)
	assert.Zero(t, plan.VsyncDiffNs)
	assert.Equal(t, uint64(1), p.State().VsyncCount)
}

func TestFramePacer_PlanPastMidpoint(t *testing.T) {
	t.Parallel()

	p := newTestPacer(t, nil)
	plan := p.Plan(1_007_000_000, 1_000_000_000)

	assert.True(t, plan.Jank)
	assert.InDelta(t, 0.7, plan.FractFrame, 1e-9)
	// (0.9 + 0.5 - 0.7) * P
	assert.InDelta(t, 7_000_000, plan.WaitNs, 2)
}

func TestFramePacer_PlanSmallHalfwayNeverWaitsBackwards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		halfway  float64
		offsetNs int64
		wantWait int64
	}{
		// (0.9 + 0.05 - 0.97) * P is negative; one period later
		{"late past wrap", 0.05, 9_700_000, 9_800_000},
		// (0.9 + 0.05 - 0.95) * P is zero
		{"late at wrap", 0.05, 9_500_000, 10_000_000},
		// (0.9 + 0.05 - 0.5) * P needs no adjustment
		{"late mid period", 0.05, 5_000_000, 4_500_000},
		{"early", 0.05, 200_000, 300_000},
		{"tiny halfway", 0.01, 9_990_000, 9_110_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFramePacer(PacerConfig{FramePeriod: testPeriod, HalfwayFraction: tt.halfway}, nil)
			require.NoError(t, err)

			plan := p.Plan(1_000_000_000+tt.offsetNs, 1_000_000_000)
			assert.Positive(t, plan.WaitNs)
			assert.InDelta(t, tt.wantWait, plan.WaitNs, 2)
		})
	}
}

func TestFramePacer_PlanBeforeMidpoint(t *testing.T) {
	t.Parallel()

	p := newTestPacer(t, nil)
	plan := p.Plan(1_002_000_000, 1_000_000_000)

	assert.False(t, plan.Jank)
	assert.InDelta(t, 3_000_000, plan.WaitNs, 2)
}

func TestFramePacer_VsyncCountIsMonotonic(t *testing.T) {
	t.Parallel()

	p := newTestPacer(t, nil)
	for i := 1; i <= 5; i++ {
		plan := p.Plan(int64(i)*int64(testPeriod), int64(i)*int64(testPeriod))
		assert.InDelta(t, float64(i), plan.FramePct, 1e-9)
		assert.Equal(t, uint64(i), p.State().VsyncCount)
		assert.Equal(t, int64(i)*int64(testPeriod), p.State().LastVsyncTimeNs)
	}
}

func TestFramePacer_WaitForMidpoint(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := newTestPacer(t, clock)

	plan := p.WaitForMidpoint(clock.NowNanos(), 0)
	assert.Equal(t, int64(5_000_000), plan.PostWaitNs)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, int64(5_000_000), p.State().LastFrameTimeNs)
}

func TestFramePacer_InterEyeDelay(t *testing.T) {
	t.Parallel()

	p := newTestPacer(t, nil)

	// P/2 - 2ms + P/8
	wait, overran := p.InterEyeDelay(102_000_000, 100_000_000)
	assert.False(t, overran)
	assert.Equal(t, int64(4_250_000), wait)

	wait, overran = p.InterEyeDelay(106_000_000, 100_000_000)
	assert.True(t, overran)
	assert.Zero(t, wait)

	wait, overran = p.InterEyeDelay(105_000_000, 100_000_000)
	assert.True(t, overran, "exactly half a period counts as an overrun")
	assert.Zero(t, wait)
}

func TestFramePacer_WaitBetweenEyes(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := newTestPacer(t, clock)

	wait, overran := p.WaitBetweenEyes(1_000_000, 0)
	assert.False(t, overran)
	assert.Equal(t, int64(5_250_000), wait)
	assert.Equal(t, int64(5_250_000), clock.NowNanos())

	_, overran = p.WaitBetweenEyes(9_000_000, 0)
	assert.True(t, overran)
	assert.Len(t, clock.Sleeps(), 1)
}
