package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavePlots(t *testing.T) {
	t.Parallel()

	windows := make([]Window, 0, 5)
	for i := 0; i < 5; i++ {
		w := Window{Index: uint64(i), FrameCount: 90, FPS: 90 - float64(i%2), MeanIntervalNs: 11_111_111, MaxIntervalNs: 12_000_000}
		if i == 3 {
			w.MidpointMisses = 1
		}
		windows = append(windows, w)
	}

	dir := filepath.Join(t.TempDir(), "plots")
	files, err := SavePlots(windows, dir, 90)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, FPSPlotFile), filepath.Join(dir, IntervalPlotFile)}, files)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestSavePlots_NoWindows(t *testing.T) {
	t.Parallel()
	_, err := SavePlots(nil, t.TempDir(), 90)
	assert.ErrorIs(t, err, ErrNoWindows)
}
